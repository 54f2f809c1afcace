package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/linkreach/internal/config"
	"github.com/kalambet/linkreach/internal/outreach"
	"github.com/kalambet/linkreach/internal/provider"
	"github.com/kalambet/linkreach/internal/storage"
)

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// --- generate ---

// profileFlags maps generate flags to profile fields.
var profileFlags = map[string]string{
	"name":      outreach.KeyName,
	"title":     outreach.KeyTitle,
	"company":   outreach.KeyCompany,
	"school":    outreach.KeySchool,
	"industry":  outreach.KeyIndustry,
	"your-role": outreach.KeyYourRole,
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Draft a connection note locally",
	Long: `Draft a connection note without a running server.

Examples:
  linkreach generate --name Jane --title "Technical Recruiter" --company Acme
  linkreach generate --url https://www.linkedin.com/in/jane --your-role "CS student"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		p := outreach.Profile{}
		if profileURL, _ := cmd.Flags().GetString("url"); profileURL != "" {
			stored, err := loadStoredProfile(cfg.Storage.DataDir, profileURL)
			if err != nil {
				return err
			}
			for k, v := range stored.Data {
				p[k] = v
			}
		}
		for flag, key := range profileFlags {
			if v, _ := cmd.Flags().GetString(flag); v != "" {
				p[key] = v
			}
		}
		if len(p) == 0 {
			return fmt.Errorf("one of --url or --name/--title/--company/--school is required")
		}

		gen, _, err := newGenerator(ctx, cfg)
		if err != nil {
			return err
		}

		fmt.Println(gen.Generate(ctx, p))
		return nil
	},
}

func loadStoredProfile(dataDir, profileURL string) (storage.Profile, error) {
	store, err := storage.Open(dataDir)
	if err != nil {
		return storage.Profile{}, fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	p, err := store.GetProfile(profileURL)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Profile{}, fmt.Errorf("profile %s has not been collected", profileURL)
	}
	return p, err
}

func init() {
	generateCmd.Flags().String("url", "", "use a collected profile as the base")
	for flag, key := range profileFlags {
		generateCmd.Flags().String(flag, "", "recipient "+key)
	}
}

// --- profiles ---

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List or import collected profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collected profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/api/get-profiles"
		if status != "" {
			path += "?" + url.Values{"status": {status}}.Encode()
		}
		resp, err := client.get(cmdContext(cmd), path)
		if err != nil {
			return err
		}

		var result struct {
			Profiles []map[string]any `json:"profiles"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if asJSON {
			return printJSON(result.Profiles)
		}
		if len(result.Profiles) == 0 {
			printWarning("No profiles collected")
			return nil
		}
		for _, p := range result.Profiles {
			fmt.Printf("%-10s %-30s %s\n",
				truncate(fieldString(p, storage.FieldStatus), 10),
				truncate(fieldString(p, outreach.KeyName), 30),
				fieldString(p, storage.FieldProfileURL))
		}
		return nil
	},
}

var profilesImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Import profiles from a JSON file",
	Long: `Import profiles from a JSON file holding either an array of profiles or
an object with a "profiles" array, as exported by the browser extension.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		profiles, err := parseProfilesFile(data)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", args[0], err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmdContext(cmd), "/api/collect-profiles", map[string]any{"profiles": profiles})
		if err != nil {
			return err
		}

		var result struct {
			ProfilesCount int    `json:"profiles_count"`
			Message       string `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("%s (%d profiles collected in total)", result.Message, result.ProfilesCount)
		return nil
	},
}

func parseProfilesFile(data []byte) ([]map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var profiles []map[string]any
		if err := json.Unmarshal(data, &profiles); err != nil {
			return nil, err
		}
		return profiles, nil
	}

	var wrapped struct {
		Profiles []map[string]any `json:"profiles"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Profiles == nil {
		return nil, errors.New(`expected an array or an object with a "profiles" array`)
	}
	return wrapped.Profiles, nil
}

func init() {
	profilesListCmd.Flags().String("status", "", "only profiles with this status")
	profilesListCmd.Flags().Bool("json", false, "print raw JSON")
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesImportCmd)
}

// --- connect ---

var connectCmd = &cobra.Command{
	Use:   "connect <profileUrl>",
	Short: "Record a sent connection request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message, _ := cmd.Flags().GetString("message")

		req := map[string]any{
			"profileUrl": args[0],
			"timestamp":  float64(time.Now().UnixNano()) / 1e9,
		}
		if message != "" {
			req["messageUsed"] = message
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmdContext(cmd), "/api/record-connection", req)
		if err != nil {
			return err
		}
		retryAfter := resp.Header.Get("Retry-After")

		var result struct {
			ConnectionsCount int    `json:"connections_count"`
			Message          string `json:"message"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			var se *apiStatusError
			if errors.As(err, &se) && se.Status == http.StatusTooManyRequests {
				printWarning("%s", se.Message)
				if secs, convErr := strconv.Atoi(retryAfter); convErr == nil {
					printStatus("Retry in", "%s", time.Duration(secs)*time.Second)
				}
			}
			return err
		}

		printSuccess("%s (%d total)", result.Message, result.ConnectionsCount)
		return nil
	},
}

func init() {
	connectCmd.Flags().StringP("message", "m", "", "the note that was sent")
}

// --- connections ---

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "Show the connection log, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmdContext(cmd), "/api/connections?limit="+strconv.Itoa(limit))
		if err != nil {
			return err
		}

		var result struct {
			Connections []storage.Connection `json:"connections"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Connections) == 0 {
			printWarning("No connections recorded")
			return nil
		}
		for _, c := range result.Connections {
			msg := ""
			if c.MessageUsed != nil {
				msg = truncate(*c.MessageUsed, 50)
			}
			fmt.Printf("%s  %-45s %s\n", c.ConnectedAt.Local().Format("2006-01-02 15:04"), c.ProfileURL, msg)
		}
		return nil
	},
}

func init() {
	connectionsCmd.Flags().Int("limit", 20, "number of entries to show")
}

// --- models ---

type modelLister interface {
	ListModels(ctx context.Context) ([]provider.Model, error)
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models offered by the configured provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmdContext(cmd)

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		p, err := provider.New(ctx, provider.Config{
			Name:    cfg.Provider.Name,
			APIKey:  cfg.Provider.APIKey,
			Model:   cfg.Provider.Model,
			BaseURL: cfg.Provider.BaseURL,
			Timeout: cfg.Provider.Timeout,
		})
		if err != nil {
			return err
		}

		lister, ok := p.(modelLister)
		if !ok {
			return fmt.Errorf("provider %s does not support listing models", p.Name())
		}
		models, err := lister.ListModels(ctx)
		if err != nil {
			return err
		}

		for _, m := range models {
			fmt.Println(m.ID)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("  %s\n", colorize(colorCyan, config.ConfigFilePath()))
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		for _, w := range cfg.Warnings {
			printWarning("%s", w)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func fieldString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
