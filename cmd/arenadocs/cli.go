package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wallcrawler78/arenadocs/internal/config"
	"github.com/wallcrawler78/arenadocs/internal/document"
	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/ops"
)

// maxSecretBytes caps a password or API key read from stdin.
const maxSecretBytes = 4096

// maxInstructionBytes caps a generate instruction read from stdin.
const maxInstructionBytes = 64 * 1024

// runner carries what every command needs to open a runtime.
type runner struct {
	db     *sql.DB
	cfg    *config.Config
	logger *zap.Logger
	opts   []ops.Option
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config, logger *zap.Logger, opts ...ops.Option) *cli.App {
	r := &runner{db: db, cfg: cfg, logger: logger, opts: opts}
	app := &cli.App{
		Name:    "arenadocs",
		Usage:   "Link document text to PLM records with {{ARENA:Category:Field}} tokens",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "doc",
				Aliases: []string{"d"},
				EnvVars: []string{docEnv},
				Usage:   "Document file (" + document.Extension + ")",
			},
		},
		Commands: []*cli.Command{
			loginCmd(r),
			logoutCmd(r),
			statusCmd(r),
			categoriesCmd(r),
			fieldsCmd(r),
			recordsCmd(r),
			insertCmd(r),
			tokensCmd(r),
			deleteTokenCmd(r),
			clearCmd(r),
			validateCmd(r),
			recordCmd(r, "populate", "Fill every token from a record and link the document to it", ops.Populate),
			recordCmd(r, "changes", "Show populated values that differ from the record (defaults to the linked record)", ops.CheckChanges),
			recordCmd(r, "update", "Refresh changed values from the record (defaults to the linked record)", ops.Update),
			autodetectCmd(r),
			generateCmd(r),
			setKeyCmd(r),
			importCmd(r),
			exportCmd(r),
			cacheCmd(r),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// run opens the runtime for the --doc document, calls fn and prints its
// output. The document is saved only when fn succeeds.
func run[T any](c *cli.Context, r *runner, fn func(ctx context.Context, rt *ops.Runtime) (T, error)) error {
	rt, err := ops.Open(r.db, r.cfg, r.logger, c.String("doc"), r.opts...)
	if err != nil {
		return outputError(err)
	}
	out, err := fn(c.Context, rt)
	if err != nil {
		return outputError(err)
	}
	if err := rt.Close(); err != nil {
		return outputError(err)
	}
	return outputJSON(out)
}

// loginCmd creates the login command.
func loginCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Sign in to the PLM workspace (password is prompted, or read from stdin when piped)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Aliases: []string{"e"}, Usage: "Account email (defaults to config arena_email)"},
			&cli.StringFlag{Name: "workspace", Aliases: []string{"w"}, Usage: "Workspace id (defaults to config arena_workspace_id)"},
		},
		Action: func(c *cli.Context) error {
			password, err := readSecret("Password: ")
			if err != nil {
				return outputError(err)
			}
			return run(c, r, func(ctx context.Context, rt *ops.Runtime) (*ops.LoginOutput, error) {
				return ops.Login(ctx, rt, ops.LoginInput{
					Email:       c.String("email"),
					Password:    password,
					WorkspaceID: c.String("workspace"),
				})
			})
		},
	}
}

// logoutCmd creates the logout command.
func logoutCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "End the PLM session and forget it locally",
		Action: func(c *cli.Context) error {
			return run(c, r, ops.Logout)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show sign-in, AI key, rate-limit, document and cache state",
		Action: func(c *cli.Context) error {
			return run(c, r, ops.Status)
		},
	}
}

// categoriesCmd creates the categories command.
func categoriesCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "categories",
		Usage: "List item categories",
		Action: func(c *cli.Context) error {
			return run(c, r, ops.ListCategories)
		},
	}
}

// fieldsCmd creates the fields command.
func fieldsCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:      "fields",
		Usage:     "List the fields of a category",
		ArgsUsage: "<category>",
		Action: func(c *cli.Context) error {
			category, err := requireArg(c, 0, "category")
			if err != nil {
				return outputError(err)
			}
			return run(c, r, func(ctx context.Context, rt *ops.Runtime) (*ops.ListFieldsOutput, error) {
				return ops.ListFields(ctx, rt, ops.ListFieldsInput{Category: category})
			})
		},
	}
}

// recordsCmd creates the records command.
func recordsCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "records",
		Usage: "List PLM records",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "category", Aliases: []string{"c"}, Usage: "Filter by category name or guid"},
			&cli.StringFlag{Name: "number", Aliases: []string{"n"}, Usage: "Filter by exact item number"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Max records to return"},
		},
		Action: func(c *cli.Context) error {
			return run(c, r, func(ctx context.Context, rt *ops.Runtime) (*ops.ListRecordsOutput, error) {
				return ops.ListRecords(ctx, rt, ops.ListRecordsInput{
					Category: c.String("category"),
					Number:   c.String("number"),
					Limit:    c.Int("limit"),
				})
			})
		},
	}
}

// insertCmd creates the insert command.
func insertCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:      "insert",
		Usage:     "Insert a token into the document",
		ArgsUsage: "<category> <field>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "at", Usage: "Byte offset to insert at"},
			&cli.BoolFlag{Name: "end", Usage: "Insert at the end of the document"},
		},
		Action: func(c *cli.Context) error {
			category, err := requireArg(c, 0, "category")
			if err != nil {
				return outputError(err)
			}
			field, err := requireArg(c, 1, "field")
			if err != nil {
				return outputError(err)
			}
			return run(c, r, func(ctx context.Context, rt *ops.Runtime) (*ops.InsertTokenOutput, error) {
				input := ops.InsertTokenInput{Category: category, Field: field}
				switch {
				case c.IsSet("at"):
					at := c.Int("at")
					input.Position = &at
				case c.Bool("end"):
					end := len(rt.Doc.Text())
					input.Position = &end
				}
				return ops.InsertToken(ctx, rt, input)
			})
		},
	}
}

// tokensCmd creates the tokens command.
func tokensCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "tokens",
		Usage: "List tracked tokens and untracked token literals",
		Action: func(c *cli.Context) error {
			return run(c, r, ops.ListTokens)
		},
	}
}

// deleteTokenCmd creates the delete-token command.
func deleteTokenCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:      "delete-token",
		Usage:     "Stop tracking a token",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "remove-text", Usage: "Also delete the token's text"},
		},
		Action: func(c *cli.Context) error {
			id, err := requireArg(c, 0, "id")
			if err != nil {
				return outputError(err)
			}
			return run(c, r, func(ctx context.Context, rt *ops.Runtime) (*ops.DeleteTokenOutput, error) {
				return ops.DeleteToken(ctx, rt, ops.DeleteTokenInput{ID: id, RemoveText: c.Bool("remove-text")})
			})
		},
	}
}

// clearCmd creates the clear command.
func clearCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Forget every tracked token and the linked record",
		Action: func(c *cli.Context) error {
			return run(c, r, ops.ClearTokens)
		},
	}
}

// validateCmd creates the validate command.
func validateCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check token literals against a category's fields",
		ArgsUsage: "[category]",
		Action: func(c *cli.Context) error {
			return run(c, r, func(ctx context.Context, rt *ops.Runtime) (*ops.ValidateTokensOutput, error) {
				return ops.ValidateTokens(ctx, rt, ops.ValidateTokensInput{Category: c.Args().First()})
			})
		},
	}
}

// recordCmd creates populate, changes and update, which share their record
// selection.
func recordCmd[T any](r *runner, name, usage string, op func(context.Context, *ops.Runtime, ops.RecordInput) (T, error)) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "[item-number]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "id", Usage: "Record guid (wins over item number)"},
		},
		Action: func(c *cli.Context) error {
			input := ops.RecordInput{RecordID: c.String("id"), Number: c.Args().First()}
			return run(c, r, func(ctx context.Context, rt *ops.Runtime) (T, error) {
				return op(ctx, rt, input)
			})
		},
	}
}

// autodetectCmd creates the autodetect command.
func autodetectCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:      "autodetect",
		Usage:     "Suggest tokens for field labels found in the document",
		ArgsUsage: "<category>",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "min-confidence", Usage: "Drop suggestions below this confidence (0-1)"},
			&cli.BoolFlag{Name: "apply", Usage: "Insert a token after each accepted label"},
		},
		Action: func(c *cli.Context) error {
			category, err := requireArg(c, 0, "category")
			if err != nil {
				return outputError(err)
			}
			return run(c, r, func(ctx context.Context, rt *ops.Runtime) (*ops.AutodetectOutput, error) {
				return ops.Autodetect(ctx, rt, ops.AutodetectInput{
					Category:      category,
					MinConfidence: c.Float64("min-confidence"),
					Apply:         c.Bool("apply"),
				})
			})
		},
	}
}

// generateCmd creates the generate command.
func generateCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Usage:     "Draft text with the AI backend and insert it (instruction from args or stdin)",
		ArgsUsage: "<category> [instruction...]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "at", Usage: "Byte offset to insert at (default: end of document)"},
			&cli.BoolFlag{Name: "context", Usage: "Send the current document text along"},
			&cli.Float64Flag{Name: "temperature", Usage: "Sampling temperature"},
			&cli.IntFlag{Name: "max-tokens", Usage: "Output token cap"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Print the draft without inserting it"},
		},
		Action: func(c *cli.Context) error {
			category, err := requireArg(c, 0, "category")
			if err != nil {
				return outputError(err)
			}
			instruction := strings.Join(c.Args().Tail(), " ")
			if instruction == "" && stdinHasData() {
				instruction, err = readStdin(maxInstructionBytes)
				if err != nil {
					return outputError(err)
				}
			}
			if instruction == "" {
				return outputError(errors.NewInvalidRequest("instruction is required (pass it after the category or pipe it via stdin)"))
			}

			input := ops.GenerateInput{
				Category:       category,
				Instruction:    instruction,
				IncludeContext: c.Bool("context"),
				MaxTokens:      int32(c.Int("max-tokens")),
				DryRun:         c.Bool("dry-run"),
			}
			if c.IsSet("at") {
				at := c.Int("at")
				input.Position = &at
			}
			if c.IsSet("temperature") {
				temp := float32(c.Float64("temperature"))
				input.Temperature = &temp
			}
			return run(c, r, func(ctx context.Context, rt *ops.Runtime) (*ops.GenerateOutput, error) {
				return ops.Generate(ctx, rt, input)
			})
		},
	}
}

// setKeyCmd creates the set-key command.
func setKeyCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "set-key",
		Usage: "Store the AI API key (prompted, or read from stdin when piped)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "clear", Usage: "Remove the stored key"},
		},
		Action: func(c *cli.Context) error {
			input := ops.SetAPIKeyInput{Clear: c.Bool("clear")}
			if !input.Clear {
				key, err := readSecret("API key: ")
				if err != nil {
					return outputError(err)
				}
				input.Key = key
			}
			return run(c, r, func(ctx context.Context, rt *ops.Runtime) (*ops.SetAPIKeyOutput, error) {
				return ops.SetAPIKey(ctx, rt, input)
			})
		},
	}
}

// importCmd creates the import command.
func importCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Create a document from a markdown or text file",
		ArgsUsage: "<source> <dest" + document.Extension + ">",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "overwrite", Usage: "Replace dest if it exists"},
		},
		Action: func(c *cli.Context) error {
			source, err := requireArg(c, 0, "source")
			if err != nil {
				return outputError(err)
			}
			dest, err := requireArg(c, 1, "dest")
			if err != nil {
				return outputError(err)
			}
			output, err := ops.ImportDocument(c.Context, r.cfg, ops.ImportDocumentInput{
				Source:    source,
				Dest:      dest,
				Overwrite: c.Bool("overwrite"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write the document as markdown or HTML",
		ArgsUsage: "[path]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "markdown|html (default: from path, else markdown)"},
		},
		Action: func(c *cli.Context) error {
			return run(c, r, func(ctx context.Context, rt *ops.Runtime) (*ops.ExportDocumentOutput, error) {
				return ops.ExportDocument(ctx, rt, ops.ExportDocumentInput{
					Path:   c.Args().First(),
					Format: c.String("format"),
				})
			})
		},
	}
}

// cacheCmd creates the cache command and its subcommands.
func cacheCmd(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage the category and field cache",
		Subcommands: []*cli.Command{
			{
				Name:  "warm",
				Usage: "Load every category's fields into the cache",
				Action: func(c *cli.Context) error {
					return run(c, r, ops.WarmCache)
				},
			},
			{
				Name:  "clear",
				Usage: "Drop cached categories and fields",
				Action: func(c *cli.Context) error {
					return run(c, r, ops.ClearCache)
				},
			},
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI as "[CODE] message (hint)".
func outputError(err error) error {
	if appErr, ok := errors.As(err); ok {
		msg := fmt.Sprintf("[%s] %s", appErr.Code, appErr.Message)
		if appErr.Hint != "" {
			msg += " (" + appErr.Hint + ")"
		}
		return cli.Exit(msg, 1)
	}
	return cli.Exit(err.Error(), 1)
}

// requireArg returns positional argument i or an INVALID_REQUEST naming it.
func requireArg(c *cli.Context, i int, name string) (string, error) {
	v := strings.TrimSpace(c.Args().Get(i))
	if v == "" {
		return "", errors.NewInvalidRequest(name + " is required")
	}
	return v, nil
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin up to limit bytes.
func readStdin(limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("stdin exceeds %d bytes", limit))
	}
	return strings.TrimSpace(string(data)), nil
}

// readSecret reads a secret from piped stdin, or prompts on stderr without
// echo when stdin is a terminal.
func readSecret(prompt string) (string, error) {
	var secret string
	if stdinHasData() {
		s, err := readStdin(maxSecretBytes)
		if err != nil {
			return "", err
		}
		secret = s
	} else {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", errors.NewInternal(err)
		}
		secret = strings.TrimSpace(string(b))
	}
	if secret == "" {
		return "", errors.NewInvalidRequest(strings.TrimSuffix(strings.ToLower(prompt), ": ") + " is required")
	}
	return secret, nil
}
