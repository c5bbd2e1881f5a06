package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/manifoldco/promptui"

	"github.com/candorhq/go-candor-ai/internal/routing"
)

// SlashCommand represents a command that starts with /
type SlashCommand struct {
	Name        string
	Description string
	Handler     func(*console, string) bool // Returns true if should exit
}

// console tracks per-session REPL state on top of the Service.
type console struct {
	svc      *Service
	task     routing.TaskType
	callerID string
}

// getSlashCommands returns all available slash commands
func getSlashCommands() []SlashCommand {
	return []SlashCommand{
		{
			Name:        "help",
			Description: "Show available commands and input conventions",
			Handler: func(c *console, _ string) bool {
				showInteractiveHelp()
				return false
			},
		},
		{
			Name:        "task",
			Description: "Pick the task type for subsequent input",
			Handler: func(c *console, arg string) bool {
				c.selectTask(arg)
				return false
			},
		},
		{
			Name:        "status",
			Description: "Show rate limit windows, cache counters and tier stats",
			Handler: func(c *console, _ string) bool {
				showStatus(c.svc)
				return false
			},
		},
		{
			Name:        "usage",
			Description: "Show usage totals per model and purpose",
			Handler: func(c *console, _ string) bool {
				showUsage(c.svc)
				return false
			},
		},
		{
			Name:        "quota",
			Description: "Show the current caller's advisory quota",
			Handler: func(c *console, arg string) bool {
				caller := arg
				if caller == "" {
					caller = c.callerID
				}
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				dec := c.svc.Quota(ctx, caller)
				if dec.Allowed {
					fmt.Printf("✅ %s: %d tokens remaining (%s)\n", caller, dec.Remaining, dec.Reason)
				} else {
					fmt.Printf("⚠️ %s: over quota (%s)\n", caller, dec.Reason)
				}
				return false
			},
		},
		{
			Name:        "cache",
			Description: "Clear cached responses for the current task ('all' for every task)",
			Handler: func(c *console, arg string) bool {
				task := c.task
				if arg == "all" {
					task = ""
				}
				n := c.svc.ClearCache(task)
				fmt.Printf("🧹 Dropped %d cached responses.\n", n)
				return false
			},
		},
		{
			Name:        "local",
			Description: "Preview the offline fallback for the current task",
			Handler: func(c *console, arg string) bool {
				out, err := c.svc.LocalPreview(c.task, arg)
				if err != nil {
					fmt.Printf("❌ %v\n", err)
					return false
				}
				fmt.Println(out)
				return false
			},
		},
		{
			Name:        "exemplar",
			Description: "Register 'doc_type | example text' for embedding-based classification",
			Handler: func(c *console, arg string) bool {
				docType, text, ok := splitParts(arg)
				if !ok || docType == "" || text == "" {
					fmt.Println("❌ Expected: /exemplar doc_type | example document text")
					return false
				}
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := c.svc.RegisterExemplar(ctx, docType, text, c.callerID); err != nil {
					fmt.Printf("❌ Failed to register exemplar: %v\n", err)
					return false
				}
				fmt.Printf("📌 Registered %s exemplar.\n", docType)
				return false
			},
		},
		{
			Name:        "quit",
			Description: "Exit the interactive session",
			Handler: func(c *console, _ string) bool {
				fmt.Println("👋 Goodbye!")
				return true
			},
		},
		{
			Name:        "exit",
			Description: "Exit the interactive session (alias for quit)",
			Handler: func(c *console, _ string) bool {
				fmt.Println("👋 Goodbye!")
				return true
			},
		},
	}
}

// handleSlashCommand processes commands that start with /
// Returns true if the command requests program exit, false otherwise
func handleSlashCommand(input string, c *console) bool {
	if strings.TrimSpace(input) == "/" {
		return showCommandSelector(c)
	}

	parts := strings.Fields(input)
	if len(parts) == 0 {
		return false
	}
	commandName := strings.TrimPrefix(parts[0], "/")
	arg := strings.TrimSpace(strings.TrimPrefix(input, parts[0]))

	for _, cmd := range getSlashCommands() {
		if cmd.Name == commandName {
			return cmd.Handler(c, arg)
		}
	}

	fmt.Printf("❌ Unknown command: /%s\n", commandName)
	fmt.Println("💡 Available commands:")
	for _, cmd := range getSlashCommands() {
		fmt.Printf("  /%s - %s\n", cmd.Name, cmd.Description)
	}
	return false
}

// showCommandSelector shows an interactive command selector using promptui
func showCommandSelector(c *console) bool {
	commands := getSlashCommands()

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}?",
		Active:   "▸ {{ .Name | cyan }} - {{ .Description | faint }}",
		Inactive: "  {{ .Name | cyan }} - {{ .Description | faint }}",
		Selected: "{{ .Name | cyan }}",
	}

	searcher := func(input string, index int) bool {
		name := strings.ToLower(commands[index].Name)
		return strings.Contains(name, strings.ToLower(strings.TrimSpace(input)))
	}

	prompt := promptui.Select{
		Label:     "Choose a command",
		Items:     commands,
		Templates: templates,
		Size:      10,
		Searcher:  searcher,
	}

	i, _, err := prompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			fmt.Println("\nCancelled.")
			return false
		}
		fmt.Printf("Command selection failed: %v\n", err)
		return false
	}
	return commands[i].Handler(c, "")
}

// selectTask switches the active task, via promptui when no argument given.
func (c *console) selectTask(arg string) {
	if arg != "" {
		task := routing.TaskType(arg)
		if !task.Valid() {
			fmt.Printf("❌ Unknown task %q. Known: %v\n", arg, routing.KnownTaskTypes)
			return
		}
		c.task = task
		fmt.Printf("🎯 Task: %s\n", c.task)
		return
	}

	items := make([]string, len(routing.KnownTaskTypes))
	for i, t := range routing.KnownTaskTypes {
		items[i] = string(t)
	}
	prompt := promptui.Select{
		Label: "Choose a task type",
		Items: items,
		Size:  len(items),
	}
	i, _, err := prompt.Run()
	if err != nil {
		if err != promptui.ErrInterrupt {
			fmt.Printf("Task selection failed: %v\n", err)
		}
		return
	}
	c.task = routing.KnownTaskTypes[i]
	fmt.Printf("🎯 Task: %s\n", c.task)
}

// StartInteractiveMode runs the readline-based REPL
func StartInteractiveMode(ctx context.Context, svc *Service, callerID string) {
	c := &console{svc: svc, task: routing.TaskGenerateQuestions, callerID: callerID}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       "",
		AutoComplete:      createAutoCompleter(),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		HistoryLimit:      2000,
	})
	if err != nil {
		fmt.Printf("❌ Failed to initialize interactive mode: %v\n", err)
		fmt.Println("💡 Please use one-shot mode instead: candorai -task generate_questions \"your input\"")
		return
	}
	defer rl.Close()

	fmt.Println("🤖 candorai interactive console")
	fmt.Printf("🎯 Task: %s (switch with /task)\n", c.task)
	fmt.Println("💬 Commands start with '/', everything else is task input.")
	fmt.Println(strings.Repeat("=", 60))

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if handleSlashCommand(input, c) {
				break
			}
			continue
		}

		// Cancellable execution: Ctrl+C interrupts the in-flight task, not
		// the session.
		execCtx, cancel := context.WithCancel(ctx)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT)
		go func() {
			select {
			case <-sigChan:
				fmt.Println()
				cancel()
			case <-execCtx.Done():
			}
		}()

		out, runErr := svc.RunTask(execCtx, c.task, input, c.callerID)
		wasCanceled := execCtx.Err() == context.Canceled

		signal.Stop(sigChan)
		close(sigChan)
		cancel()

		if runErr != nil {
			if wasCanceled {
				fmt.Println("🔄 Ready for next command.")
			} else {
				fmt.Printf("❌ Error: %v\n", runErr)
			}
			continue
		}
		fmt.Println(out)
	}
}

// createAutoCompleter creates an autocompletion function for readline
func createAutoCompleter() *readline.PrefixCompleter {
	var pcItems []readline.PrefixCompleterInterface
	for _, cmd := range getSlashCommands() {
		pcItems = append(pcItems, readline.PcItem("/"+cmd.Name))
	}
	pcItems = append(pcItems, readline.PcItem("/"))
	taskItems := make([]readline.PrefixCompleterInterface, 0, len(routing.KnownTaskTypes))
	for _, t := range routing.KnownTaskTypes {
		taskItems = append(taskItems, readline.PcItem(string(t)))
	}
	pcItems = append(pcItems, readline.PcItem("/task", taskItems...))
	return readline.NewPrefixCompleter(pcItems...)
}

func showInteractiveHelp() {
	fmt.Println("\n📚 Interactive Commands:")
	fmt.Println("  /                - Show interactive command selector")
	for _, cmd := range getSlashCommands() {
		fmt.Printf("  /%-15s - %s\n", cmd.Name, cmd.Description)
	}
	fmt.Println("\n📝 Task input conventions:")
	fmt.Println("  generate_questions: role | optional job description")
	fmt.Println("  evaluate_answer:    question | answer")
	fmt.Println("  classify_document:  document text (HTML is fine)")
	fmt.Println("  suggest_skills:     partial skill query, e.g. 'kub'")
	fmt.Println("  embed_text:         any text")
}

func showStatus(svc *Service) {
	status := svc.Status()

	fmt.Println("\n📊 Rate limit windows:")
	for tier, w := range status.RateLimits {
		fmt.Printf("  %-18s %d/%d used", tier, w.Used, w.Limit)
		if w.WaitTime > 0 {
			fmt.Printf(" (next slot in %s)", w.WaitTime.Round(time.Second))
		}
		fmt.Println()
	}

	fmt.Printf("\n🗃️  Cache: %d/%d entries, %d hits, %d misses, %d evictions\n",
		status.Cache.Entries, status.Cache.Capacity,
		status.Cache.Hits, status.Cache.Misses, status.Cache.Evictions)

	if len(status.Router) > 0 {
		fmt.Println("\n🔀 Tier traffic:")
		for tier, s := range status.Router {
			fmt.Printf("  %-18s %d calls, %d ok, %d failed, %d throttled\n",
				tier, s.Calls, s.Successes, s.Failures, s.Throttles)
		}
	}
	if status.Debouncing > 0 {
		fmt.Printf("\n⏳ Debouncing: %d pending keys\n", status.Debouncing)
	}
	for tier, depth := range status.QueueDepth {
		fmt.Printf("⏳ Queue %s: %d waiting\n", tier, depth)
	}
}

func showUsage(svc *Service) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := svc.UsageSummary(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to read usage: %v\n", err)
		return
	}
	if len(rows) == 0 {
		fmt.Println("📒 No usage recorded yet.")
		return
	}
	fmt.Println("\n📒 Usage by model and purpose:")
	for _, row := range rows {
		fmt.Printf("  %-28s %-20s %5d calls, %d in / %d out tokens\n",
			row.Model, row.Purpose, row.Calls, row.InputTokens, row.OutputTokens)
	}
	if failed, err := svc.FailedCalls(ctx); err == nil && failed > 0 {
		fmt.Printf("  %d failed attempts recorded.\n", failed)
	}
}
