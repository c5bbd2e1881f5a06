package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/candorhq/go-candor-ai/internal/app"
	"github.com/candorhq/go-candor-ai/internal/config"
	"github.com/candorhq/go-candor-ai/internal/routing"
)

// resolveStringFlag returns the non-empty value, preferring short flag over long flag
func resolveStringFlag(shortVal, longVal string) string {
	if shortVal != "" {
		return shortVal
	}
	return longVal
}

func printUsage() {
	fmt.Println("candorai - AI request orchestration console for the recruiting platform")
	fmt.Println()
	fmt.Println("Task Types:")
	fmt.Println("  generate_questions      Interview questions for a role ('role | job description')")
	fmt.Println("  evaluate_answer         Score a candidate answer ('question | answer')")
	fmt.Println("  classify_document       Label an uploaded document (resume, cover letter, ...)")
	fmt.Println("  suggest_skills          Skill typeahead completion for a partial query")
	fmt.Println("  embed_text              Embedding vector for arbitrary text")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  candorai                                              # Interactive console")
	fmt.Println("  candorai \"Backend Engineer | Builds Go services\"      # One-shot (generate_questions)")
	fmt.Println("  candorai -t classify_document \"Work Experience ...\"   # One-shot with explicit task")
	fmt.Println("  candorai -caller recruiter-7 -t suggest_skills \"kub\"  # Attribute usage to a caller")
	fmt.Println("  candorai -v \"Sales Manager\"                           # Verbose debug logging")
	fmt.Println()
}

func main() {
	ctx := context.Background()

	var task = flag.String("t", "", "Task type for one-shot mode")
	var taskLong = flag.String("task", "", "Task type for one-shot mode")
	var settingsPath = flag.String("settings", "", "Path to settings file")
	var callerID = flag.String("caller", "console", "Caller ID for usage attribution")
	var routingFile = flag.String("routing", "", "Routing table file (overrides the built-in table)")
	var verbose = flag.Bool("v", false, "Enable verbose logging (debug level)")
	var verboseLong = flag.Bool("verbose", false, "Enable verbose logging (debug level)")
	var help = flag.Bool("h", false, "Show this help message")
	var helpLong = flag.Bool("help", false, "Show this help message")

	flag.Usage = func() {
		printUsage()
		fmt.Println("Flags:")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *help || *helpLong {
		flag.Usage()
		return
	}

	resolvedTask := resolveStringFlag(*task, *taskLong)
	resolvedVerbose := *verbose || *verboseLong
	args := flag.Args()

	settings, err := config.LoadSettings(*settingsPath)
	if err != nil {
		fmt.Printf("⚠️  Warning: failed to load settings: %v\n", err)
		settings = config.GetDefaultSettings()
	}
	if resolvedVerbose {
		settings.LogLevel = "debug"
	}
	if *routingFile != "" {
		settings.Routing.TableFile = *routingFile
	}

	if err := config.ValidateSettings(settings); err != nil {
		fmt.Printf("❌ Settings validation failed: %v\n", err)
		os.Exit(1)
	}

	svc, err := app.NewService(settings)
	if err != nil {
		fmt.Printf("❌ Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	// One-shot mode when input arguments are present.
	if len(args) > 0 {
		taskType := routing.TaskGenerateQuestions
		if resolvedTask != "" {
			taskType = routing.TaskType(resolvedTask)
			if !taskType.Valid() {
				fmt.Printf("❌ Unknown task %q. Known: %v\n", resolvedTask, routing.KnownTaskTypes)
				os.Exit(1)
			}
		}
		out, err := svc.RunTask(ctx, taskType, strings.Join(args, " "), *callerID)
		if err != nil {
			fmt.Printf("❌ Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(out)
		return
	}

	app.StartInteractiveMode(ctx, svc, *callerID)
}
