// Utility for enrolling router passwords in the system keyring

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/wrtkit/router-command/pkg/cli"
)

func usage() {
	w := flag.CommandLine.Output()
	fmt.Fprintf(w, "usage: %s [-password-name name] [-delete] [file]\n", filepath.Base(os.Args[0]))
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Saves a router login password in the system keyring. The password is read from")
	fmt.Fprintln(w, "file when given, from stdin when piped, or from an interactive prompt. The")
	fmt.Fprintf(w, "name defaults to $%s.\n", cli.EnvPasswordName)
}

func readPassword() (string, error) {
	switch flag.NArg() {
	case 0:
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return "", fmt.Errorf("error reading password from stdin: %s", err)
			}
			return strings.TrimSpace(string(data)), nil
		}
		first, err := cli.PromptSecret("New router password")
		if err != nil {
			return "", err
		}
		second, err := cli.PromptSecret("Repeat password")
		if err != nil {
			return "", err
		}
		if first != second {
			return "", fmt.Errorf("passwords do not match")
		}
		return first, nil
	case 1:
		data, err := os.ReadFile(flag.Arg(0))
		if err != nil {
			return "", fmt.Errorf("error reading password from file: %s", err)
		}
		return strings.TrimSpace(string(data)), nil
	default:
		return "", fmt.Errorf("too many command-line arguments")
	}
}

func main() {
	returnCode := 1
	defer func() {
		os.Exit(returnCode)
	}()

	config, err := cli.NewConfig(cli.FlagCredentials)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credential configuration: %s\n", err)
		return
	}

	var deleteEntry bool
	flag.StringVar(&config.KeyringPasswordName, "password-name", "", "Name to use for the keyring entry")
	flag.BoolVar(&deleteEntry, "delete", false, "Remove the named password from the keyring")
	flag.Usage = usage
	flag.Parse()
	config.ReadFromEnvironment()

	if config.KeyringPasswordName == "" {
		fmt.Fprintf(os.Stderr, "Must provide a keyring entry name using -password-name or $%s\n", cli.EnvPasswordName)
		return
	}

	if deleteEntry {
		if err := config.DeletePasswordFromKeyring(); err != nil {
			fmt.Fprintf(os.Stderr, "Error removing password from keyring: %s\n", err)
			return
		}
		fmt.Printf("Removed password '%s' from the system keyring.\n", config.KeyringPasswordName)
		returnCode = 0
		return
	}

	password, err := readPassword()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	if password == "" {
		fmt.Fprintln(os.Stderr, "Refusing to save an empty password")
		return
	}

	if err := config.SavePasswordToKeyring(password); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving password to keyring: %s\n", err)
		return
	}
	fmt.Printf("Enrolled password '%s' in the system keyring.\n", config.KeyringPasswordName)

	returnCode = 0
}
