package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/Safariblocks-LTD/codelock-agent/internal/authflow"
	"github.com/Safariblocks-LTD/codelock-agent/internal/tokens"
)

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:   "login",
		Usage:  "authenticate via the browser",
		Action: loginAction,
	}
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	application, err := setup(cmd)
	if err != nil {
		return err
	}

	result, err := application.Login(ctx)
	if err != nil {
		var flowErr *authflow.FlowError
		if errors.As(err, &flowErr) {
			return cli.Exit(fmt.Sprintf("Login failed: %v", flowErr), 1)
		}
		return fmt.Errorf("login failed: %w", err)
	}

	switch result.Status {
	case authflow.StatusCompleted:
		fmt.Printf("Logged in as %s\n", result.UserID)
	case authflow.StatusCancelled:
		fmt.Println("Login cancelled.")
	case authflow.StatusTimedOut:
		fmt.Println("Login timed out waiting for the browser redirect.")
	}
	return nil
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "revoke and clear stored credentials",
		Action: logoutAction,
	}
}

func logoutAction(ctx context.Context, cmd *cli.Command) error {
	application, err := setup(cmd)
	if err != nil {
		return err
	}

	if err := application.Logout(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	fmt.Println("Logged out.")
	return nil
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "report whether a stored credential exists",
		Action: statusAction,
	}
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	application, err := setup(cmd)
	if err != nil {
		return err
	}

	token := application.Lifecycle().Current(ctx)
	if token == nil {
		return cli.Exit("Not logged in.", 1)
	}

	fmt.Printf("Logged in as %s\n", token.UserID)
	return nil
}

func callbackCommand() *cli.Command {
	return &cli.Command{
		Name:      "callback",
		Usage:     "forward an authorization redirect to the running agent",
		ArgsUsage: "<redirect-uri>",
		Hidden:    true,
		Action:    callbackAction,
	}
}

// callbackAction is what the OS private-URI-scheme handler invokes: it parses
// the redirect URI and hands its parameters to the agent's callback endpoint.
func callbackAction(ctx context.Context, cmd *cli.Command) error {
	raw := cmd.Args().First()
	if raw == "" {
		return fmt.Errorf("missing redirect URI argument")
	}

	cb, err := authflow.ParseCallback(raw)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	query := url.Values{}
	if cb.Code != "" {
		query.Set("code", cb.Code)
	}
	if cb.State != "" {
		query.Set("state", cb.State)
	}
	if cb.ErrorCode != "" {
		query.Set("error", cb.ErrorCode)
	}
	if cb.ErrorDescription != "" {
		query.Set("error_description", cb.ErrorDescription)
	}

	endpoint := "http://" + cfg.Server.Host + ":" + strconv.FormatUint(uint64(cfg.Server.Port), 10) + "/auth/callback?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("forwarding redirect to agent: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent rejected the redirect with status %d", resp.StatusCode)
	}
	return nil
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:   "token",
		Usage:  "print a valid access token, refreshing if needed",
		Action: tokenAction,
	}
}

func tokenAction(ctx context.Context, cmd *cli.Command) error {
	application, err := setup(cmd)
	if err != nil {
		return err
	}

	accessToken, err := application.Lifecycle().GetValidToken(ctx)
	if err != nil {
		if errors.Is(err, tokens.ErrNoToken) {
			return cli.Exit("Not logged in.", 1)
		}
		return fmt.Errorf("obtaining access token: %w", err)
	}

	fmt.Println(accessToken)
	return nil
}
