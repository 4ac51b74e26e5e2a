package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/bizchat/internal/config"
)

// --- chat ---

type chatView struct {
	ID        string `json:"id"`
	PersonaID string `json:"persona_id"`
	Title     string `json:"title"`
	Turns     []struct {
		Seq      int    `json:"seq"`
		Question string `json:"question"`
		Answer   string `json:"answer"`
	} `json:"turns"`
	Session *struct {
		Topic        string   `json:"topic"`
		KeyDecisions []string `json:"key_decisions"`
	} `json:"session"`
	UpdatedAt string `json:"updated_at"`
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Create and inspect chats",
}

var chatNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		personaID, _ := cmd.Flags().GetString("persona")
		title, _ := cmd.Flags().GetString("title")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		id, err := createChat(cmd.Context(), client, personaID, title)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var chatListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/chats?limit=%d", limit))
		if err != nil {
			return err
		}
		var chats []chatView
		if err := decodeJSON(resp, &chats); err != nil {
			return err
		}
		if len(chats) == 0 {
			fmt.Println("No chats found.")
			return nil
		}
		for _, c := range chats {
			title := c.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, c.ID), c.UpdatedAt, truncate(title, 60))
		}
		return nil
	},
}

var chatShowCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Show a chat with its turns and session context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/chats/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var c chatView
		if err := decodeJSON(resp, &c); err != nil {
			return err
		}

		if c.Session != nil {
			printStatus("Topic", "%s", c.Session.Topic)
			for _, d := range c.Session.KeyDecisions {
				printStatus("Decision", "%s", d)
			}
		}
		for _, t := range c.Turns {
			fmt.Printf("\n%s %s\n", colorize(colorBold, fmt.Sprintf("[%d] you:", t.Seq)), t.Question)
			fmt.Printf("%s %s\n", colorize(colorBold, "assistant:"), t.Answer)
		}
		return nil
	},
}

func init() {
	chatNewCmd.Flags().String("persona", "", "persona ID for the chat")
	chatNewCmd.Flags().String("title", "", "chat title")
	chatListCmd.Flags().Int("limit", 20, "maximum number of chats to list")
	chatCmd.AddCommand(chatNewCmd)
	chatCmd.AddCommand(chatListCmd)
	chatCmd.AddCommand(chatShowCmd)
}

func createChat(ctx context.Context, client *apiClient, personaID, title string) (string, error) {
	resp, err := client.post(ctx, "/v1/chats", map[string]any{
		"persona_id": personaID,
		"title":      title,
	})
	if err != nil {
		return "", err
	}
	var c chatView
	if err := decodeJSON(resp, &c); err != nil {
		return "", err
	}
	return c.ID, nil
}

// --- send ---

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message and print the answer",
	Long: `Send a message to a chat and print the assistant's answer.

Examples:
  bizchat send "How should I price the new service?"
  bizchat send --chat 3f2a... --web-search "What changed in VAT rules this year?"
  bizchat send --persona accountant --attach ./q3.pdf "Summarize this report"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, _ := cmd.Flags().GetString("chat")
		personaID, _ := cmd.Flags().GetString("persona")
		webSearch, _ := cmd.Flags().GetBool("web-search")
		model, _ := cmd.Flags().GetString("model")
		override, _ := cmd.Flags().GetString("persona-override")
		attach, _ := cmd.Flags().GetString("attach")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		message := strings.Join(args, " ")
		if chatID == "" {
			chatID, err = createChat(cmd.Context(), client, personaID, truncate(message, 60))
			if err != nil {
				return err
			}
			printStep("Started chat %s", chatID)
		}

		req := map[string]any{
			"message":          message,
			"web_search":       webSearch,
			"model":            model,
			"persona_override": override,
		}
		if attach != "" {
			req["attachment"] = map[string]string{
				"kind": attachmentKind(attach),
				"name": filepath.Base(attach),
			}
		}

		resp, err := client.post(cmd.Context(), "/v1/chats/"+url.PathEscape(chatID)+"/turns", req)
		if err != nil {
			return err
		}
		var result struct {
			Success bool   `json:"success"`
			Answer  string `json:"answer"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		fmt.Println(result.Answer)
		return nil
	},
}

func init() {
	sendCmd.Flags().String("chat", "", "chat ID (a new chat is created when empty)")
	sendCmd.Flags().String("persona", "", "persona for a newly created chat")
	sendCmd.Flags().Bool("web-search", false, "allow the model to search the web")
	sendCmd.Flags().String("model", "", "model override for this turn")
	sendCmd.Flags().String("persona-override", "", "one-off instructions replacing the chat persona")
	sendCmd.Flags().String("attach", "", "file to mention as an attachment")
}

func attachmentKind(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "file"
	}
	return ext
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Add a resource to the knowledge base",
	Long: `Add a resource to the knowledge base. Indexing runs in the background.

Examples:
  bizchat ingest --text "Our standard payment terms are net 30" --title "Payment terms"
  bizchat ingest --file ./handbook.md --persona accountant
  bizchat ingest --file ./pricing.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		personaID, _ := cmd.Flags().GetString("persona")

		req, err := ingestRequest(text, file, title, personaID)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/resources", req)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued resource %s", result["id"])
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("file", "", "text or PDF file to ingest")
	ingestCmd.Flags().String("title", "", "title for the resource")
	ingestCmd.Flags().String("persona", "", "scope the resource to a persona")
}

// ingestRequest builds the resource body. PDF files are sent base64
// encoded and converted to text by the server.
func ingestRequest(text, file, title, personaID string) (map[string]any, error) {
	if text == "" && file == "" {
		return nil, fmt.Errorf("one of --text or --file is required")
	}

	req := map[string]any{
		"source":     "cli",
		"title":      title,
		"persona_id": personaID,
	}
	if text != "" {
		req["type"] = "text"
		req["content"] = text
		return req, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	if title == "" {
		req["title"] = filepath.Base(file)
	}
	req["source"] = file
	if strings.EqualFold(filepath.Ext(file), ".pdf") {
		req["type"] = "pdf"
		req["content"] = base64.StdEncoding.EncodeToString(data)
	} else {
		req["type"] = "text"
		req["content"] = string(data)
	}
	return req, nil
}

// --- resources ---

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "List or delete knowledge-base resources",
}

var resourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/resources?limit=%d", limit))
		if err != nil {
			return err
		}
		var list []struct {
			ID        string `json:"id"`
			PersonaID string `json:"persona_id"`
			Type      string `json:"type"`
			Title     string `json:"title"`
			Content   string `json:"content"`
		}
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No resources found.")
			return nil
		}
		for _, r := range list {
			label := r.Title
			if label == "" {
				label = truncate(r.Content, 60)
			}
			scope := r.PersonaID
			if scope == "" {
				scope = "global"
			}
			fmt.Printf("%s  %-12s %-10s %s\n", colorize(colorCyan, r.ID), r.Type, scope, label)
		}
		return nil
	},
}

var resourcesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a resource and its embeddings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/resources/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted resource %s", args[0])
		return nil
	},
}

func init() {
	resourcesListCmd.Flags().Int("limit", 20, "maximum number of resources to list")
	resourcesCmd.AddCommand(resourcesListCmd)
	resourcesCmd.AddCommand(resourcesDeleteCmd)
}

// --- persona ---

var personaCmd = &cobra.Command{
	Use:   "persona",
	Short: "Manage personas",
}

var personaSaveCmd = &cobra.Command{
	Use:   "save <name>",
	Short: "Create or update a persona",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		instructions, _ := cmd.Flags().GetString("instructions")
		exclude, _ := cmd.Flags().GetBool("exclude-business")
		isolate, _ := cmd.Flags().GetBool("isolate")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		saved, err := savePersona(cmd.Context(), client, seedPersona{
			ID:                     id,
			Name:                   args[0],
			Instructions:           instructions,
			ExcludeBusinessContext: exclude,
			IsolateRAGContext:      isolate,
		})
		if err != nil {
			return err
		}
		printSuccess("Saved persona %s (%s)", args[0], saved)
		return nil
	},
}

func init() {
	personaSaveCmd.Flags().String("id", "", "persona ID to update (a new persona is created when empty)")
	personaSaveCmd.Flags().String("instructions", "", "instructions the assistant follows in this persona")
	personaSaveCmd.Flags().Bool("exclude-business", false, "leave the business profile out of the prompt")
	personaSaveCmd.Flags().Bool("isolate", false, "retrieve only resources scoped to this persona")
	personaCmd.AddCommand(personaSaveCmd)
}

func savePersona(ctx context.Context, client *apiClient, p seedPersona) (string, error) {
	resp, err := client.post(ctx, "/v1/personas", map[string]any{
		"id":                       p.ID,
		"name":                     p.Name,
		"instructions":             p.Instructions,
		"exclude_business_context": p.ExcludeBusinessContext,
		"isolate_rag_context":      p.IsolateRAGContext,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// --- profile ---

type businessProfile struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Size        string `json:"size" yaml:"size"`
	Description string `json:"description" yaml:"description"`
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage the business profile",
}

var profileShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the business profile as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/profile")
		if err != nil {
			return err
		}
		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		return printJSON(os.Stdout, p)
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update business profile fields",
	Long: `Update business profile fields. Unset flags keep their current value.

Example:
  bizchat profile set --name "Acme Bakery" --type bakery --size small`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var cur businessProfile
		resp, err := client.get(cmd.Context(), "/v1/profile")
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
		} else if err := decodeJSON(resp, &cur); err != nil {
			return err
		}

		for flag, field := range map[string]*string{
			"name":        &cur.Name,
			"type":        &cur.Type,
			"size":        &cur.Size,
			"description": &cur.Description,
		} {
			if cmd.Flags().Changed(flag) {
				*field, _ = cmd.Flags().GetString(flag)
			}
		}

		if err := putProfile(cmd.Context(), client, cur); err != nil {
			return err
		}
		printSuccess("Business profile updated")
		return nil
	},
}

func init() {
	profileSetCmd.Flags().String("name", "", "business name")
	profileSetCmd.Flags().String("type", "", "kind of business")
	profileSetCmd.Flags().String("size", "", "business size")
	profileSetCmd.Flags().String("description", "", "short description")
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)
}

func putProfile(ctx context.Context, client *apiClient, p businessProfile) error {
	resp, err := client.put(ctx, "/v1/profile", p)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
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
		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", "),
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

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret (API keys, server token) in the platform secret store",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
