// Interactive login support: a terminal-driven auth.UserAuthenticator that
// collects phone/code/2FA input through the shared operator cli readline
// instance, grounded in the teacher's internal/telegram/auth.go.
package gotdclient

import (
	"context"
	"fmt"
	"strings"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"golang.org/x/term"

	"github.com/lbj9527/tgrelay/internal/app/cli"
)

// terminalAuthenticator implements auth.UserAuthenticator against the
// process's shared readline instance, one prompt set per session so
// concurrent logins (serialised by the pool's login gate) stay legible.
type terminalAuthenticator struct {
	phone string
}

func (t terminalAuthenticator) Phone(_ context.Context) (string, error) {
	return t.phone, nil
}

func (t terminalAuthenticator) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return readLine(fmt.Sprintf("[%s] enter the code from Telegram: ", t.phone))
}

// Password reads the 2FA password without echoing it to the terminal.
func (t terminalAuthenticator) Password(_ context.Context) (string, error) {
	cli.Printf("[%s] enter 2FA password: ", t.phone)
	passwordBytes, err := term.ReadPassword(syscall.Stdin)
	cli.Println()
	if err != nil {
		return "", err
	}
	return string(passwordBytes), nil
}

func (t terminalAuthenticator) AcceptTermsOfService(_ context.Context, tos tg.HelpTermsOfService) error {
	cli.Printf("[%s] Telegram Terms of Service: %s\n", t.phone, tos.Text)
	resp, err := readLine("Do you accept? (y/n): ")
	if err != nil {
		return err
	}
	if !strings.EqualFold(resp, "y") {
		return errors.New("gotdclient: user did not accept terms of service")
	}
	return nil
}

func (t terminalAuthenticator) SignUp(_ context.Context) (auth.UserInfo, error) {
	firstName, err := readLine(fmt.Sprintf("[%s] enter your first name: ", t.phone))
	if err != nil {
		return auth.UserInfo{}, err
	}
	lastName, _ := readLine(fmt.Sprintf("[%s] enter your last name (optional): ", t.phone))
	return auth.UserInfo{FirstName: firstName, LastName: lastName}, nil
}

func readLine(prompt string) (string, error) {
	cli.SetPrompt(prompt)
	line, err := cli.Rl().Readline()
	return strings.TrimSpace(line), err
}

// login runs gotd's auth.Flow against the session's phone number, a no-op
// if the session storage already holds a valid authorization.
func (c *Client) login(ctx context.Context) error {
	flow := auth.NewFlow(terminalAuthenticator{phone: c.cfg.Phone}, auth.SendCodeOptions{})
	return c.client.Auth().IfNecessary(ctx, flow)
}
