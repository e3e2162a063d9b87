package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/org/sharebox/internal/auth"
)

var rootCmd = &cobra.Command{
	Use:           "sharebox",
	Short:         "sharebox CLI",
	Long:          "A CLI for browsing and administering a sharebox file server.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(loginCmd(), logoutCmd(), whoamiCmd())
	rootCmd.AddCommand(lsCmd(), getCmd(), mkdirCmd(), rmCmd(), mvCmd(), uploadCmd(), qrCmd())
	rootCmd.AddCommand(permsCmd(), reconcileCmd(), usersCmd(), groupsCmd(), hashPasswordCmd())
}

var stdin = bufio.NewReader(os.Stdin)

func prompt(label string) string {
	fmt.Fprint(os.Stderr, label)
	line, _ := stdin.ReadString('\n')
	return strings.TrimSpace(line)
}

// --- session ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Sign in and store the session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := cfg.Username
			if len(args) > 0 {
				username = args[0]
			}
			if username == "" {
				username = prompt("Username: ")
			}
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password = prompt("Password: ")
			}

			client := newClient()
			resp, err := client.do("POST", "/login", map[string]string{"username": username, "password": password})
			if err != nil {
				return err
			}
			var token string
			for _, c := range resp.Cookies() {
				if c.Name == sessionCookie {
					token = c.Value
				}
			}
			var result map[string]any
			if err := parseResponse(resp, &result); err != nil {
				return err
			}
			if token == "" {
				return errors.New("server did not return a session")
			}
			cfg.Username = username
			cfg.Session = token
			if err := saveConfig(); err != nil {
				return fmt.Errorf("saving session: %w", err)
			}
			fmt.Fprintln(os.Stderr, "Session saved to config.")
			if u, ok := result["user"].(map[string]any); ok {
				printResult(u)
			}
			return nil
		},
	}
	cmd.Flags().String("password", "", "Password (prompted when empty)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := newClient().post("/logout", nil); err != nil {
				return err
			}
			cfg.Session = ""
			if err := saveConfig(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/check-auth")
			if err != nil {
				return err
			}
			if u, ok := result["user"].(map[string]any); ok {
				printResult(u)
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

// --- files ---

func lsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a folder",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := ""
			if len(args) > 0 {
				p = args[0]
			}
			depth, _ := cmd.Flags().GetInt("depth")
			var nodes []*listNode
			u := "/api/files/" + escapePath(p) + "?depth=" + strconv.Itoa(depth)
			if err := newClient().call("GET", u, nil, &nodes); err != nil {
				return err
			}
			printTree(nodes)
			return nil
		},
	}
	cmd.Flags().Int("depth", 1, "Levels to expand (0 = all)")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path> [dest]",
		Short: "Download a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := filepath.Base(args[0])
			if len(args) > 1 {
				dest = args[1]
			}
			resp, err := newClient().fetch("/data/" + escapePath(args[0]) + "?download=true")
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var out io.Writer = os.Stdout
			if dest != "-" {
				f, err := os.Create(dest)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			n, err := io.Copy(out, resp.Body)
			if err != nil {
				return err
			}
			if dest != "-" {
				fmt.Fprintf(os.Stderr, "%s (%s)\n", dest, humanSize(n))
			}
			return nil
		},
	}
}

func mkdirCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkdir <parent> <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, _ := cmd.Flags().GetStringSlice("group")
			result, err := newClient().post("/api/create-folder", map[string]any{
				"path":   args[0],
				"name":   args[1],
				"groups": groups,
			})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringSlice("group", nil, "Restrict the folder to these groups (admin only)")
	return cmd
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or folder recursively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/api/files/" + escapePath(args[0])); err != nil {
				return err
			}
			printSuccess("Success! Deleted " + args[0])
			return nil
		},
	}
}

func mvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <path> <new-name>",
		Short: "Rename a file or folder in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().put("/api/files/"+escapePath(args[0]), map[string]string{"newName": args[1]})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
}

func uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <local-file> [folder]",
		Short: "Upload a file into a folder",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) > 1 {
				dir = args[1]
			}
			result, err := newClient().upload(args[0], dir)
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				printJSON(result)
				return nil
			}
			files, _ := result["files"].([]any)
			for _, f := range files {
				if m, ok := f.(map[string]any); ok {
					fmt.Printf("%v\t%v bytes\n", m["path"], m["size"])
				}
			}
			return nil
		},
	}
}

func qrCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qr <path>",
		Short: "Save the share QR code for a path as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("output")
			if out == "" {
				out = filepath.Base(args[0]) + ".qr.png"
			}
			resp, err := newClient().fetch("/api/qr/" + escapePath(args[0]))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(f, resp.Body); err != nil {
				return err
			}
			printResult(map[string]any{"file": out, "url": resp.Header.Get("X-Share-URL")})
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output file")
	return cmd
}

// --- admin ---

func permsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "perms", Short: "Manage folder permissions (admin)"}

	listCmd := &cobra.Command{
		Use:   "list [prefix]",
		Short: "Show permission entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := newClient().get("/admin/permissions")
			if err != nil {
				return err
			}
			if len(args) > 0 {
				prefix := strings.Trim(args[0], "/")
				for k := range doc {
					if k != prefix && !strings.HasPrefix(k, prefix+"/") {
						delete(doc, k)
					}
				}
			}
			printResult(doc)
			return nil
		},
	}

	grantCmd := &cobra.Command{
		Use:   "grant <path> <group> [group ...]",
		Short: "Add groups to a path",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().put("/admin/permissions/"+escapePath(args[0]), map[string]any{"groups": args[1:]})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <path> <group>",
		Short: "Remove a group from a path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result map[string]any
			u := "/admin/permissions/" + escapePath(args[0]) + "?group=" + url.QueryEscape(args[1])
			if err := newClient().call("DELETE", u, nil, &result); err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	cmd.AddCommand(listCmd, grantCmd, revokeCmd)
	return cmd
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [path]",
		Short: "Give every untracked path the Default group (admin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]string{}
			if len(args) > 0 {
				body["path"] = args[0]
			}
			result, err := newClient().post("/admin/reconcile", body)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
}

func usersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Manage accounts (admin)"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/admin/users")
			if err != nil {
				return err
			}
			if outputFormat == "json" {
				printJSON(result)
				return nil
			}
			users, _ := result["users"].([]any)
			for _, u := range users {
				if m, ok := u.(map[string]any); ok {
					fmt.Printf("%v\t%v\t%v\n", m["username"], m["role"], m["group"])
				}
			}
			return nil
		},
	}

	createCmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			group, _ := cmd.Flags().GetString("group")
			password, _ := cmd.Flags().GetString("password")
			if password == "" {
				password = prompt("Password: ")
			}
			result, err := newClient().post("/admin/users", map[string]string{
				"username": args[0],
				"password": password,
				"role":     role,
				"group":    group,
			})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().String("role", "user", "Role: user or admin")
	createCmd.Flags().String("group", "", "Access group")
	createCmd.Flags().String("password", "", "Password (prompted when empty)")

	passwdCmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Set an account's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := prompt("New password: ")
			result, err := newClient().put("/admin/users/"+url.PathEscape(args[0]), map[string]string{"newPassword": password})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	renameCmd := &cobra.Command{
		Use:   "rename <username> <new-username>",
		Short: "Rename an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().put("/admin/users/"+url.PathEscape(args[0]), map[string]string{"newUsername": args[1]})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	groupCmd := &cobra.Command{
		Use:   "set-group <username> [group]",
		Short: "Move an account into a group (no group clears it)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			group := ""
			if len(args) > 1 {
				group = args[1]
			}
			result, err := newClient().put("/admin/users/"+url.PathEscape(args[0])+"/group", map[string]string{"group": group})
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <username>",
		Short: "Delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/admin/users/" + url.PathEscape(args[0])); err != nil {
				return err
			}
			printSuccess("Success! Deleted user " + args[0])
			return nil
		},
	}

	cmd.AddCommand(listCmd, createCmd, passwdCmd, renameCmd, groupCmd, deleteCmd)
	return cmd
}

func groupsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "groups", Short: "Manage access groups (admin)"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := newClient().get("/admin/groups")
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}

	addCmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := newClient().post("/admin/groups", map[string]string{"name": args[0]}); err != nil {
				return err
			}
			printSuccess("Success! Added group " + args[0])
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Unregister a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient().delete("/admin/groups/" + url.PathEscape(args[0])); err != nil {
				return err
			}
			printSuccess("Success! Deleted group " + args[0])
			return nil
		},
	}

	cmd.AddCommand(listCmd, addCmd, deleteCmd)
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for seeding users.json by hand",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := ""
			if len(args) > 0 {
				password = args[0]
			} else {
				password = prompt("Password: ")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}
