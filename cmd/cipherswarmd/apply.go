package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// manifest is the declarative form of a cracking job: one project, one
// hash list, one campaign and its attacks, applied through the API.
type manifest struct {
	Project struct {
		Name string `yaml:"name"`
	} `yaml:"project"`

	HashList struct {
		Name     string   `yaml:"name"`
		HashType int      `yaml:"hash_type"`
		Hashes   []string `yaml:"hashes"`
		File     string   `yaml:"file"`
	} `yaml:"hash_list"`

	Campaign struct {
		Name     string `yaml:"name"`
		Priority string `yaml:"priority"`
	} `yaml:"campaign"`

	Attacks []struct {
		Name            string `yaml:"name"`
		Mode            string `yaml:"attack_mode"`
		Mask            string `yaml:"mask"`
		IncrementMode   bool   `yaml:"increment_mode"`
		IncrementMin    int    `yaml:"increment_minimum"`
		IncrementMax    int    `yaml:"increment_maximum"`
		CustomCharset1  string `yaml:"custom_charset_1"`
		CustomCharset2  string `yaml:"custom_charset_2"`
		CustomCharset3  string `yaml:"custom_charset_3"`
		CustomCharset4  string `yaml:"custom_charset_4"`
		Optimized       bool   `yaml:"optimized"`
		WorkloadProfile int    `yaml:"workload_profile"`
		WordListID      string `yaml:"word_list_id"`
		RuleListID      string `yaml:"rule_list_id"`
		MaskListID      string `yaml:"mask_list_id"`
		ComplexityValue uint64 `yaml:"complexity_value"`
	} `yaml:"attacks"`
}

func init() {
	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().StringP("file", "f", "", "manifest file (required)")
	applyCmd.Flags().String("server", "http://localhost:8080", "server base URL")
	_ = applyCmd.MarkFlagRequired("file")
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a campaign manifest to a running server",
	Long: `Apply reads a YAML manifest describing a project, hash list,
campaign and attacks, and creates them through the server API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		server, _ := cmd.Flags().GetString("server")

		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read manifest: %w", err)
		}
		var m manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("failed to parse manifest: %w", err)
		}

		hashes := m.HashList.Hashes
		if m.HashList.File != "" {
			fileHashes, err := readHashFile(m.HashList.File)
			if err != nil {
				return err
			}
			hashes = append(hashes, fileHashes...)
		}
		if len(hashes) == 0 {
			return fmt.Errorf("manifest has no hashes")
		}

		client := &applyClient{base: server, http: &http.Client{Timeout: 30 * time.Second}}

		project, err := client.post("/api/v1/projects", map[string]any{"name": m.Project.Name})
		if err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}
		fmt.Printf("project %s created (%s)\n", m.Project.Name, project["ID"])

		hashList, err := client.post("/api/v1/hash_lists", map[string]any{
			"project_id": project["ID"],
			"name":       m.HashList.Name,
			"hash_type":  m.HashList.HashType,
			"hashes":     hashes,
		})
		if err != nil {
			return fmt.Errorf("failed to create hash list: %w", err)
		}
		fmt.Printf("hash list %s created with %s hashes\n",
			m.HashList.Name, humanize.Comma(int64(len(hashes))))

		campaign, err := client.post("/api/v1/campaigns", map[string]any{
			"project_id":   project["ID"],
			"hash_list_id": hashList["ID"],
			"name":         m.Campaign.Name,
			"priority":     m.Campaign.Priority,
		})
		if err != nil {
			return fmt.Errorf("failed to create campaign: %w", err)
		}
		fmt.Printf("campaign %s created (%s)\n", m.Campaign.Name, campaign["ID"])

		for _, a := range m.Attacks {
			_, err := client.post("/api/v1/attacks", map[string]any{
				"campaign_id":       campaign["ID"],
				"name":              a.Name,
				"attack_mode":       a.Mode,
				"mask":              a.Mask,
				"increment_mode":    a.IncrementMode,
				"increment_minimum": a.IncrementMin,
				"increment_maximum": a.IncrementMax,
				"custom_charset_1":  a.CustomCharset1,
				"custom_charset_2":  a.CustomCharset2,
				"custom_charset_3":  a.CustomCharset3,
				"custom_charset_4":  a.CustomCharset4,
				"optimized":         a.Optimized,
				"workload_profile":  a.WorkloadProfile,
				"word_list_id":      a.WordListID,
				"rule_list_id":      a.RuleListID,
				"mask_list_id":      a.MaskListID,
				"complexity_value":  a.ComplexityValue,
			})
			if err != nil {
				return fmt.Errorf("failed to create attack %s: %w", a.Name, err)
			}
			fmt.Printf("attack %s created\n", a.Name)
		}
		return nil
	},
}

func readHashFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hash file: %w", err)
	}
	var out []string
	for _, line := range bytes.Split(data, []byte("\n")) {
		if v := string(bytes.TrimSpace(line)); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

type applyClient struct {
	base string
	http *http.Client
}

func (c *applyClient) post(path string, body map[string]any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
