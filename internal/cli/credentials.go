package cli

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"
)

// Credentials is the on disk login state of the CLI.
type Credentials struct {
	Server       string    `yaml:"server"`
	AccessToken  string    `yaml:"access_token"`
	RefreshToken string    `yaml:"refresh_token,omitempty"`
	TokenType    string    `yaml:"token_type,omitempty"`
	Scope        string    `yaml:"scope,omitempty"`
	Expiry       time.Time `yaml:"expiry,omitempty"`
}

func credentialsFromToken(server string, tok *oauth2.Token) *Credentials {
	creds := &Credentials{
		Server:       server,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
	if s, ok := tok.Extra("scope").(string); ok {
		creds.Scope = s
	}
	return creds
}

func (c *Credentials) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// DefaultCredentialsPath is skills/credentials.yaml under the user config directory.
func DefaultCredentialsPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "cli.DefaultCredentialsPath")
	}
	return filepath.Join(dir, "skills", "credentials.yaml"), nil
}

func LoadCredentials(path string) (*Credentials, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotLoggedIn
		}
		return nil, errors.Wrap(err, "cli.LoadCredentials")
	}
	var creds Credentials
	if err := yaml.Unmarshal(b, &creds); err != nil {
		return nil, errors.Wrapf(err, "cli.LoadCredentials %s", path)
	}
	if creds.AccessToken == "" {
		return nil, ErrNotLoggedIn
	}
	return &creds, nil
}

// SaveCredentials writes the file readable by the owner only.
func SaveCredentials(path string, creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, "cli.SaveCredentials")
	}
	b, err := yaml.Marshal(creds)
	if err != nil {
		return errors.Wrap(err, "cli.SaveCredentials")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return errors.Wrap(err, "cli.SaveCredentials")
	}
	return errors.Wrap(os.Rename(tmp, path), "cli.SaveCredentials")
}

func DeleteCredentials(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "cli.DeleteCredentials")
	}
	return nil
}
