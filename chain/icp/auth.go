// SPDX-License-Identifier: Apache-2.0

package icp

import (
	"context"
	"fmt"

	"github.com/aviate-labs/agent-go/identity"
	"github.com/pkg/errors"

	"perun.network/provenance-backend/chain"
)

type (
	// AppDetails describes the application to the user during authorization.
	AppDetails struct {
		Name       string
		Icon       string
		RedirectTo string
	}

	// Profile is the result of a finished authorization flow.
	Profile struct {
		Address string
	}

	// Authenticator runs the external authorization flow. It returns
	// chain.ErrUserRejected if the user cancels it.
	Authenticator interface {
		Authenticate(ctx context.Context, app AppDetails) (Profile, error)
	}

	// Confirmer shows a call to the user before it is executed. It returns
	// false if the user cancels.
	Confirmer interface {
		Confirm(ctx context.Context, call chain.Call) (bool, error)
	}

	// Prompter asks the user a yes/no question.
	Prompter interface {
		Prompt(ctx context.Context, question string) (bool, error)
	}
)

// IdentityAuthenticator authorizes the app to act as a local identity after
// the user agreed.
type IdentityAuthenticator struct {
	Identity identity.Identity
	Prompter Prompter
}

func (a IdentityAuthenticator) Authenticate(ctx context.Context, app AppDetails) (Profile, error) {
	if a.Identity == nil {
		return Profile{}, chain.ErrProviderUnavailable
	}
	sender := a.Identity.Sender().String()
	if a.Prompter != nil {
		ok, err := a.Prompter.Prompt(ctx, fmt.Sprintf("Allow %s to act as %s?", app.Name, sender))
		if err != nil {
			return Profile{}, err
		}
		if !ok {
			return Profile{}, errors.WithMessage(chain.ErrUserRejected, "authorization cancelled")
		}
	}
	return Profile{Address: sender}, nil
}

// PromptConfirmer asks the user to approve every call.
type PromptConfirmer struct {
	Prompter Prompter
}

func (c PromptConfirmer) Confirm(ctx context.Context, call chain.Call) (bool, error) {
	return c.Prompter.Prompt(ctx, fmt.Sprintf("Submit %s?", call))
}

// AutoConfirm approves every call without asking.
type AutoConfirm struct{}

func (AutoConfirm) Confirm(context.Context, chain.Call) (bool, error) { return true, nil }
