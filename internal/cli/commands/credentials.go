package commands

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
)

const (
	emailEnv    = "AUTHFLOW_EMAIL"
	passwordEnv = "AUTHFLOW_PASSWORD"
)

// resolveEmail falls back to AUTHFLOW_EMAIL, then to an interactive prompt
func resolveEmail(email string) (string, error) {
	if email == "" {
		email = os.Getenv(emailEnv)
	}
	if email != "" {
		return email, nil
	}

	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("email is required (use --email flag or %s env var)", emailEnv)
	}

	fmt.Fprint(os.Stderr, "Email: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read email: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// resolvePassword falls back to AUTHFLOW_PASSWORD, then to a hidden prompt
func resolvePassword(password string) (string, error) {
	if password == "" {
		password = os.Getenv(passwordEnv)
	}
	if password != "" {
		return password, nil
	}

	// Check if stdin is a terminal (not piped)
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("password is required in non-interactive mode (use --password flag or %s env var)", passwordEnv)
	}

	fmt.Fprint(os.Stderr, "Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(bytePassword), nil
}
