package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/CrispStrobe/filen-cli-go/internal/backend"
	"github.com/CrispStrobe/filen-cli-go/internal/cliutil"
	"github.com/CrispStrobe/filen-cli-go/internal/config"
	"github.com/CrispStrobe/filen-cli-go/internal/fcrypto"
	"github.com/CrispStrobe/filen-cli-go/internal/metrics"
)

var flagLoginBaseURL string

var loginCmd = &cobra.Command{
	Use:   "login [email]",
	Short: "Authenticate and persist local credentials",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := configDirOrDefault()
		if err != nil {
			return wrapErr(err)
		}

		email := ""
		if len(args) == 1 {
			email = args[0]
		} else {
			email, err = readLine("Email: ")
			if err != nil {
				return wrapErr(err)
			}
		}
		password, err := readPassword("Password: ")
		if err != nil {
			return wrapErr(err)
		}

		client := backend.New(flagLoginBaseURL, "", nil, metrics.NewRegistry())
		// The password itself is the authChallengeResponse: the server
		// verifies it and hands back the salt that was used to derive the
		// account's master key, so the plaintext password never has to be
		// re-sent for anything after this single request.
		resp, err := client.Login(cmd.Context(), email, password)
		if err != nil {
			return wrapErr(err)
		}

		salt, err := hex.DecodeString(resp.SaltHex)
		if err != nil {
			return usageErr("server returned a malformed salt")
		}
		masterKey, _ := fcrypto.DeriveKeys([]byte(password), salt)

		creds := config.Credentials{
			Email:        resp.Email,
			APIKey:       resp.APIKey,
			AuthToken:    resp.AuthToken,
			MasterKeyHex: hex.EncodeToString(masterKey[:]),
			SaltHex:      resp.SaltHex,
		}
		if err := config.SaveCredentials(dir, creds); err != nil {
			return wrapErr(err)
		}
		cliutil.Success("logged in as %s", resp.Email)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the locally persisted credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := configDirOrDefault()
		if err != nil {
			return wrapErr(err)
		}
		if err := config.ClearCredentials(dir); err != nil {
			return wrapErr(err)
		}
		cliutil.Success("logged out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the currently logged-in account and storage usage",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return wrapErr(err)
		}
		info, err := s.client.UserInfo(cmd.Context())
		if err != nil {
			return wrapErr(err)
		}
		fmt.Printf("%s\n%d / %d bytes used\n", s.creds.Email, info.StorageUsed, info.StorageLimit)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&flagLoginBaseURL, "base-url", "https://gateway.filen.io", "backend base URL")
}

func configDirOrDefault() (string, error) {
	if flagConfigDir != "" {
		return flagConfigDir, nil
	}
	return config.Dir()
}

func readLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
