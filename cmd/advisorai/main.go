package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oakfieldlabs/advisorai/internal/config"
	"github.com/oakfieldlabs/advisorai/internal/gateway"
	"github.com/oakfieldlabs/advisorai/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "advisorai",
	Short: "advisorai - client query assistant for financial advisors",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the full gateway (HTTP API, channels, scheduled sync)",
	RunE:  runServe,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask a question in single message or REPL mode",
	RunE:  runChat,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and optionally import a contact book",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show advisorai status",
	RunE:  runStatus,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one source sync pass now",
	RunE:  runSync,
}

var instructCmd = &cobra.Command{
	Use:   "instruct [instruction text]",
	Short: "Add a standing instruction that creates follow-up tasks when synced records match its triggers",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runInstruct,
}

var (
	messageFlag  string
	contactsFlag string
	nameFlag     string
	triggerFlags []string
)

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	onboardCmd.Flags().StringVar(&contactsFlag, "contacts", "", "JSON contact book to import")
	instructCmd.Flags().StringVar(&nameFlag, "name", "", "Short name for the instruction (also the task title)")
	instructCmd.Flags().StringArrayVar(&triggerFlags, "trigger", nil, "Keyword that fires the instruction (repeatable)")
	rootCmd.AddCommand(serveCmd, chatCmd, onboardCmd, statusCmd, syncCmd, instructCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfigWithKey() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("API key not set. Run 'advisorai onboard' or set ADVISORAI_API_KEY / OPENAI_API_KEY")
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigWithKey()
	if err != nil {
		return err
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigWithKey()
	if err != nil {
		return err
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	defer gw.Shutdown()

	ctx := context.Background()
	orch := gw.Orchestrator()

	if messageFlag != "" {
		reply, err := orch.SubmitMessage(ctx, "", "cli", messageFlag)
		if err != nil {
			return fmt.Errorf("submit message: %w", err)
		}
		fmt.Println(reply.AssistantText)
		return nil
	}

	fmt.Println("advisorai chat (type 'exit' to quit)")
	sessionID := ""
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		reply, err := orch.SubmitMessage(ctx, sessionID, "cli", input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		if sessionID == "" {
			sessionID = reply.SessionID
			fmt.Printf("[session: %s]\n", reply.SessionTitle)
		}
		fmt.Println(reply.AssistantText)
	}
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	if contactsFlag != "" {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		gw, err := gateway.New(cfg)
		if err != nil {
			return fmt.Errorf("create gateway: %w", err)
		}
		defer gw.Shutdown()

		count, err := gw.ImportContacts(context.Background(), contactsFlag)
		if err != nil {
			return fmt.Errorf("import contacts: %w", err)
		}
		fmt.Printf("Imported contact book, %d contacts known\n", count)
	}

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set ADVISORAI_API_KEY environment variable")
	fmt.Println("  3. Run 'advisorai chat -m \"What did Sarah say about retirement?\"'")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Model: %s\n", cfg.Advisor.Model)
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Embedding: enabled=%v\n", cfg.Advisor.Embedding.Enabled)
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("Sync schedule: %s\n", cfg.Sync.Schedule)

	dbPath := gateway.DBPath(cfg)
	fmt.Printf("Store: %s\n", dbPath)
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Println("Store: not found (run 'advisorai onboard' or 'advisorai sync')")
		return nil
	}

	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return nil
	}
	defer st.Close()

	if known, err := st.ReadContacts(); err == nil {
		fmt.Printf("Contacts: %d\n", len(known))
	}
	if records, err := st.ReadInteractions(nil); err == nil {
		fmt.Printf("Interactions: %d\n", len(records))
	}
	if active, err := st.ListInstructions(true); err == nil {
		fmt.Printf("Instructions: %d active\n", len(active))
	}
	if pending, err := st.ListTasks(store.TaskPending); err == nil {
		fmt.Printf("Follow-ups: %d pending\n", len(pending))
		for _, task := range pending {
			fmt.Printf("  - %s (%s)\n", task.Title, task.ID)
		}
	}

	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	defer gw.Shutdown()

	if err := gw.SyncOnce(context.Background()); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	fmt.Println("Sync complete")
	return nil
}

func runInstruct(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return fmt.Errorf("instruction text is empty")
	}
	if len(triggerFlags) == 0 {
		return fmt.Errorf("at least one --trigger keyword is required")
	}
	name := nameFlag
	if name == "" {
		name = text
		if len(name) > 48 {
			name = name[:48]
		}
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := store.Open(gateway.DBPath(cfg))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	inst := store.Instruction{
		ID:       uuid.NewString(),
		Name:     name,
		Text:     text,
		Triggers: triggerFlags,
		Active:   true,
	}
	if err := st.SaveInstruction(inst); err != nil {
		return fmt.Errorf("save instruction: %w", err)
	}
	fmt.Printf("Instruction %q saved (%s), triggers: %s\n", name, inst.ID, strings.Join(triggerFlags, ", "))
	return nil
}
