package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"moneymarket/cmd/internal/secret"
	"moneymarket/crypto"
)

const (
	tokenCommand   = "token"
	verifyCommand  = "verify"
	defaultHMACEnv = "LENDING_HMAC_SECRET"
	minSecretLen   = 32
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case tokenCommand:
		err = runToken(os.Args[2:], os.Stdout)
	case verifyCommand:
		err = runVerify(os.Args[2:], os.Stdout)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: lendingctl <%s|%s> [flags]\n", tokenCommand, verifyCommand)
}

// tokenRequest describes a bearer token accepted by lendingd.
type tokenRequest struct {
	Subject  crypto.Address
	Scopes   []string
	Issuer   string
	Audience string
	TTL      time.Duration
	Now      time.Time
}

func issueToken(req tokenRequest, hmacSecret string) (string, error) {
	if req.Subject.IsZero() {
		return "", errors.New("subject address required")
	}
	if req.Subject.Prefix() != crypto.AccountPrefix {
		return "", fmt.Errorf("subject must be an %s address", crypto.AccountPrefix)
	}
	if req.TTL <= 0 {
		return "", errors.New("ttl must be positive")
	}
	key, err := signingKey(hmacSecret)
	if err != nil {
		return "", err
	}
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	claims := jwt.MapClaims{
		"sub": req.Subject.String(),
		"iat": now.Unix(),
		"exp": now.Add(req.TTL).Unix(),
	}
	if len(req.Scopes) > 0 {
		claims["scope"] = strings.Join(req.Scopes, " ")
	}
	if req.Issuer != "" {
		claims["iss"] = req.Issuer
	}
	if req.Audience != "" {
		claims["aud"] = req.Audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// tokenSummary is what verify reports about an accepted token.
type tokenSummary struct {
	Subject crypto.Address
	Scopes  []string
	Expires time.Time
}

func verifyToken(tokenString, hmacSecret, issuer, audience string) (tokenSummary, error) {
	key, err := signingKey(hmacSecret)
	if err != nil {
		return tokenSummary{}, err
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.NewParser(opts...).ParseWithClaims(strings.TrimSpace(tokenString), claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	}); err != nil {
		return tokenSummary{}, err
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return tokenSummary{}, err
	}
	addr, err := crypto.DecodeAddress(subject)
	if err != nil {
		return tokenSummary{}, fmt.Errorf("subject: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return tokenSummary{}, err
	}
	summary := tokenSummary{Subject: addr, Expires: exp.Time}
	if scope, ok := claims["scope"].(string); ok {
		summary.Scopes = strings.Fields(scope)
	}
	return summary, nil
}

func signingKey(hmacSecret string) ([]byte, error) {
	trimmed := strings.TrimSpace(hmacSecret)
	if len(trimmed) < minSecretLen {
		return nil, fmt.Errorf("hmac secret must be at least %d bytes", minSecretLen)
	}
	return []byte(trimmed), nil
}

func splitScopes(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(tokenCommand, flag.ContinueOnError)
	subject := fs.String("sub", "", "Sender account address")
	secretEnv := fs.String("secret-env", defaultHMACEnv, "Environment variable holding the HMAC secret")
	scopes := fs.String("scope", "", "Space or comma separated scopes, e.g. lending:admin")
	issuer := fs.String("issuer", "", "Token issuer")
	audience := fs.String("audience", "", "Token audience")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := crypto.DecodeAddress(*subject)
	if err != nil {
		return fmt.Errorf("sub: %w", err)
	}
	hmacSecret, err := secret.NewSource(*secretEnv, "hmac secret").Get()
	if err != nil {
		return err
	}
	signed, err := issueToken(tokenRequest{
		Subject:  addr,
		Scopes:   splitScopes(*scopes),
		Issuer:   *issuer,
		Audience: *audience,
		TTL:      *ttl,
	}, hmacSecret)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, signed)
	return nil
}

func runVerify(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(verifyCommand, flag.ContinueOnError)
	secretEnv := fs.String("secret-env", defaultHMACEnv, "Environment variable holding the HMAC secret")
	issuer := fs.String("issuer", "", "Required issuer")
	audience := fs.String("audience", "", "Required audience")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: lendingctl verify [flags] <token>")
	}
	hmacSecret, err := secret.NewSource(*secretEnv, "hmac secret").Get()
	if err != nil {
		return err
	}
	summary, err := verifyToken(fs.Arg(0), hmacSecret, *issuer, *audience)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "subject: %s\nscopes: %s\nexpires: %s\n",
		summary.Subject, strings.Join(summary.Scopes, " "), summary.Expires.UTC().Format(time.RFC3339))
	return nil
}
