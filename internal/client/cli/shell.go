package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shilei2024/foodai/internal/client/models"
	"github.com/shilei2024/foodai/internal/client/provider"
	"github.com/shilei2024/foodai/internal/client/records"
	"github.com/shilei2024/foodai/internal/client/services"
)

const defaultPageSize = 10

// ErrUsage is returned for malformed command arguments.
var ErrUsage = errors.New("usage")

type Options struct {
	// Online reports the connectivity state shown in the prompt.
	Online   func() bool
	In       io.Reader
	Out      io.Writer
	PageSize int
}

// Shell is the interactive front end over a RecordService.
type Shell struct {
	svc      services.RecordService
	online   func() bool
	in       *bufio.Scanner
	out      io.Writer
	pageSize int
}

func NewShell(svc services.RecordService, opts Options) *Shell {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	return &Shell{
		svc:      svc,
		online:   opts.Online,
		in:       bufio.NewScanner(opts.In),
		out:      opts.Out,
		pageSize: opts.PageSize,
	}
}

// Run blocks until the user exits, input ends or ctx is cancelled.
func (s *Shell) Run(ctx context.Context) error {
	fmt.Fprintln(s.out, "Welcome to FoodAI (type 'help' for commands)")
	runREPL(ctx, s, s.prompt, s.in, s.out)
	return nil
}

func (s *Shell) prompt() string {
	if s.online == nil {
		return "(local)"
	}
	if s.online() {
		return "(online)"
	}
	return "(offline)"
}

func (s *Shell) Add(ctx context.Context, args []string) error {
	if len(args) == 0 {
		lines, err := GetLines(s.in, "Enter fields as name=value", s.out)
		if err != nil {
			return err
		}
		args = lines
	}
	fields, err := parseFields(args, false)
	if err != nil {
		return err
	}

	rec, err := s.svc.Add(ctx, fields)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Added %s\n", rec.LocalID)
	return nil
}

func (s *Shell) Update(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("%w: update <id> name=value ...", ErrUsage)
	}
	fields, err := parseFields(args[1:], true)
	if err != nil {
		return err
	}

	rec, err := s.svc.Update(ctx, args[0], fields)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Updated %s\n", rec.LocalID)
	return nil
}

func (s *Shell) List(ctx context.Context, args []string) error {
	opts := records.ListOptions{Page: 1, PageSize: s.pageSize}
	for _, a := range args {
		switch a {
		case "-u", "--unsynced":
			opts.Filter = func(r models.Record) bool { return !r.Synced }
		case "-o", "--oldest":
			opts.Compare = func(a, b models.Record) int { return a.CreatedAt.Compare(b.CreatedAt) }
		default:
			page, err := strconv.Atoi(a)
			if err != nil || page < 1 {
				return fmt.Errorf("%w: list [page] [-u] [-o]", ErrUsage)
			}
			opts.Page = page
		}
	}

	res, err := s.svc.List(ctx, opts)
	if err != nil {
		return err
	}
	if res.Total == 0 {
		fmt.Fprintln(s.out, "No records")
		return nil
	}

	tw := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCAL ID\tSYNCED\tUPDATED\tFIELDS")
	for _, r := range res.Items {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\n", r.LocalID, r.Synced, r.UpdatedAt.Local().Format(time.DateTime), compactJSON(r.Fields))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	pages := (res.Total + opts.PageSize - 1) / opts.PageSize
	fmt.Fprintf(s.out, "page %d of %d, %d records\n", opts.Page, pages, res.Total)
	return nil
}

func (s *Shell) Show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: show <id>", ErrUsage)
	}
	rec, err := s.svc.Get(ctx, args[0])
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, string(b))
	return nil
}

func (s *Shell) Delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: delete <id>", ErrUsage)
	}
	if err := s.svc.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Deleted %s\n", args[0])
	return nil
}

// Clear asks for confirmation unless called with -y.
func (s *Shell) Clear(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] != "-y" {
		answer, err := GetSimpleText(s.in, "Delete all local records? [y/N]", s.out)
		if err != nil {
			return err
		}
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			fmt.Fprintln(s.out, "Cancelled")
			return nil
		}
	}

	n, err := s.svc.Clear(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Deleted %d records\n", n)
	return nil
}

func (s *Shell) Recognize(ctx context.Context, args []string) error {
	var req provider.Request
	if len(args) >= 2 && args[0] == "-f" {
		img, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		req.Image = img
		req.ImageType = http.DetectContentType(img)
		args = args[2:]
	}
	req.Text = strings.Join(args, " ")
	if req.Text == "" && len(req.Image) == 0 {
		return fmt.Errorf("%w: recognize [-f image] description", ErrUsage)
	}

	rec, err := s.svc.Recognize(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Recognized %v (%v kcal), saved as %s\n", rec.Fields["name"], rec.Fields["calories"], rec.LocalID)
	return nil
}

func (s *Shell) Sync(ctx context.Context, _ []string) error {
	res, err := s.svc.Sync(ctx)
	if err != nil {
		return err
	}
	if res.Skipped {
		fmt.Fprintln(s.out, "Sync skipped")
		return nil
	}
	fmt.Fprintf(s.out, "Synced %d, failed %d, gave up on %d, deferred %d, pruned %d\n",
		res.Synced, res.Failed, res.Exhausted, res.Deferred, res.Pruned)
	return nil
}

func (s *Shell) Status(ctx context.Context, _ []string) error {
	st, err := s.svc.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(s.out, "Records: %d of %d, %d not synced\n", st.Records, st.MaxRecords, st.Unsynced)
	if !st.SyncOn {
		fmt.Fprintln(s.out, "Remote sync: off")
		return nil
	}
	fmt.Fprintf(s.out, "Queue: %d pending, %d synced, %d failed\n", st.Queue.Pending, st.Queue.Synced, st.Queue.Failed)
	return nil
}

func (s *Shell) Retry(ctx context.Context, _ []string) error {
	n, err := s.svc.RetryFailed(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Requeued %d failed mutations\n", n)
	return nil
}

// parseFields turns name=value tokens into record fields. Numbers and
// true/false are typed, everything else stays a string. With allowRemove
// an empty value maps to nil, which removes the field on update.
func parseFields(args []string, allowRemove bool) (map[string]any, error) {
	fields := make(map[string]any, len(args))
	for _, a := range args {
		name, value, ok := strings.Cut(a, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: expected name=value, got %q", ErrUsage, a)
		}
		fields[name] = parseValue(value, allowRemove)
	}
	return fields, nil
}

func parseValue(v string, allowRemove bool) any {
	switch {
	case v == "" && allowRemove:
		return nil
	case v == "true":
		return true
	case v == "false":
		return false
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
