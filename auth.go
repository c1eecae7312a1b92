package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
)

// idTokenVerifier lazily initializes a Firebase Admin Auth client using
// Application Default Credentials. Safe for concurrent use.
type idTokenVerifier struct {
	client *auth.Client
}

var (
	verifierOnce sync.Once
	verifier     *idTokenVerifier
	verifierErr  error
)

// getIDTokenVerifier initializes (once) and returns the verifier. It
// relies on ADC and the configured project ID.
func getIDTokenVerifier(ctx context.Context, projectID string) (*idTokenVerifier, error) {
	verifierOnce.Do(func() {
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID})
		if err != nil {
			verifierErr = err
			log.Printf("firebase.NewApp error: %v", err)
			return
		}

		client, err := app.Auth(ctx)
		if err != nil {
			verifierErr = err
			log.Printf("firebase app.Auth error: %v", err)
			return
		}

		verifier = &idTokenVerifier{client: client}
	})

	return verifier, verifierErr
}

// verifyIDToken verifies a bearer ID token and returns the decoded
// token. Callers decide whether to fall back to dev bearer behavior.
func (h *Handlers) verifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	v, err := getIDTokenVerifier(ctx, h.Cfg.ProjectID)
	if err != nil || v == nil {
		return nil, err
	}
	return v.client.VerifyIDToken(ctx, idToken)
}

// devAuthOK reports whether the request carries the configured dev
// bearer token.
func (h *Handlers) devAuthOK(r *http.Request) bool {
	if h.Cfg.DevBearer == "" {
		return false
	}
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	return token == h.Cfg.DevBearer
}

// GetUserIDFromRequest returns the effective user ID for this request.
//
// Priority:
//  1. X-User-Id header (dev/test flows).
//  2. The configured dev bearer token, with X-User-Id optional.
//  3. Authorization: Bearer <ID token>, verified via the Admin SDK.
func (h *Handlers) GetUserIDFromRequest(ctx context.Context, r *http.Request) (string, error) {
	if userID := strings.TrimSpace(r.Header.Get("X-User-Id")); userID != "" {
		return userID, nil
	}

	if h.devAuthOK(r) {
		return "dev", nil
	}

	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return "", fmt.Errorf("missing Authorization bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	if token == "" {
		return "", fmt.Errorf("empty bearer token")
	}

	decoded, err := h.verifyIDToken(ctx, token)
	if err != nil || decoded == nil {
		return "", fmt.Errorf("verifyIDToken failed: %w", err)
	}

	return decoded.UID, nil
}
