// ABOUTME: Login and 2FA verification against the Bambu Cloud account service.
// ABOUTME: Implements the provider contract the auth gate drives.

package bambu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/2389/bambu-gateway/internal/auth"
)

// loginResponse is the cloud's answer to a credential or code submission.
// A populated accessToken means success; loginType "verifyCode" with an
// empty token means a 2FA email code is required; tfaKey means the account
// uses app-based 2FA.
type loginResponse struct {
	AccessToken string `json:"accessToken"`
	LoginType   string `json:"loginType"`
	TFAKey      string `json:"tfaKey"`
}

// Login authenticates with account and password. When the account has 2FA
// enabled, it asks the cloud to email a verification code and returns a
// challenge outcome for the gate to park until the code arrives.
func (c *Client) Login(ctx context.Context, account, password string) (auth.LoginOutcome, error) {
	body := map[string]string{
		"account":  account,
		"password": password,
	}
	data, err := c.doJSON(ctx, "login", http.MethodPost, loginPath, "", nil, body)
	if err != nil {
		return auth.LoginOutcome{}, err
	}

	var resp loginResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return auth.LoginOutcome{}, fmt.Errorf("decoding login response: %w", err)
	}

	if resp.AccessToken != "" {
		c.logger.Info("cloud login succeeded", "account", account)
		return auth.LoginOutcome{Token: resp.AccessToken}, nil
	}

	if resp.TFAKey != "" {
		c.logger.Info("cloud login requires app 2FA", "account", account)
		return auth.LoginOutcome{Challenge: &auth.Challenge{TFAKey: resp.TFAKey}}, nil
	}

	if resp.LoginType == "verifyCode" {
		if err := c.requestEmailCode(ctx, account); err != nil {
			return auth.LoginOutcome{}, err
		}
		c.logger.Info("cloud login requires email code", "account", account)
		return auth.LoginOutcome{Challenge: &auth.Challenge{}}, nil
	}

	return auth.LoginOutcome{}, errors.New("login response had no access token and no recognized challenge")
}

// requestEmailCode asks the cloud to send a login code to the account email.
func (c *Client) requestEmailCode(ctx context.Context, account string) error {
	body := map[string]string{
		"email": account,
		"type":  "codeLogin",
	}
	if _, err := c.doJSON(ctx, "send verification code", http.MethodPost, sendCodePath, "", nil, body); err != nil {
		return err
	}
	return nil
}

// VerifyCode completes a pending 2FA challenge. Email challenges resubmit
// the login with the code; app challenges post the code against the tfaKey
// the cloud issued.
func (c *Client) VerifyCode(ctx context.Context, ch auth.Challenge, code string) (string, error) {
	var (
		data json.RawMessage
		err  error
	)
	if ch.TFAKey != "" {
		body := map[string]string{
			"tfaKey":  ch.TFAKey,
			"tfaCode": code,
		}
		data, err = c.doJSON(ctx, "verify 2FA code", http.MethodPost, tfaPath, "", nil, body)
	} else {
		body := map[string]string{
			"account": ch.Identity,
			"code":    code,
		}
		data, err = c.doJSON(ctx, "verify 2FA code", http.MethodPost, loginPath, "", nil, body)
	}
	if err != nil {
		return "", err
	}

	var resp loginResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decoding verification response: %w", err)
	}
	if resp.AccessToken == "" {
		return "", errors.New("no access token received after verification")
	}

	c.logger.Info("2FA verification succeeded", "account", ch.Identity)
	return resp.AccessToken, nil
}
