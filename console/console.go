// Package console is the operator's line-oriented command interpreter.
//
//	/open_order CODE long|short QTY [market|PRICE] [[fixed] SL TP | fixed | trailing]
//	/force_order LOCAL_ID QTY long|short [market|PRICE]
//	/cancel_order LOCAL_ID
//	/status
//	/close_all
//	/points [POINT_ID]
//	/close_point POINT_ID|all
//	help
//	exit
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rustyeddy/futdesk/desk"
	"github.com/rustyeddy/futdesk/ledger"
	"github.com/rustyeddy/futdesk/points"
	"go.uber.org/zap"
)

// ErrExit is returned by Execute for the exit command.
var ErrExit = errors.New("exit requested")

// ErrUsage marks a malformed command line.
var ErrUsage = errors.New("usage")

type Desk interface {
	Open(ctx context.Context, req desk.OpenRequest) (desk.Result, error)
	Close(ctx context.Context, req desk.CloseRequest) (desk.Result, error)
	CloseAll(ctx context.Context) ([]desk.Result, error)
	Cancel(ctx context.Context, localID string) (desk.Result, error)
	Status(ctx context.Context) desk.Status
}

type Points interface {
	Status() []points.Status
	PointStatus(id string) (points.Status, error)
	ClosePoint(ctx context.Context, id string) ([]desk.Result, error)
	CloseAll(ctx context.Context) ([]desk.Result, error)
}

type Console struct {
	desk   Desk
	points Points
	log    *zap.Logger
}

// New builds a console. pts may be nil when the point engine is disabled.
func New(d Desk, pts Points, log *zap.Logger) *Console {
	if log == nil {
		log = zap.NewNop()
	}
	return &Console{desk: d, points: pts, log: log.Named("console")}
}

const help = `commands:
  /open_order CODE long|short QTY [market|PRICE] [[fixed] SL TP | fixed | trailing]
  /force_order LOCAL_ID QTY long|short [market|PRICE]
  /cancel_order LOCAL_ID
  /status
  /close_all
  /points [POINT_ID]
  /close_point POINT_ID|all
  exit`

func usage(format string) error {
	return fmt.Errorf("%w: %s", ErrUsage, format)
}

// Execute runs one command line and returns the text to show the operator.
func (c *Console) Execute(ctx context.Context, line string) (string, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", nil
	}

	cmd := strings.ToLower(parts[0])
	args := parts[1:]
	c.log.Debug("command", zap.String("cmd", cmd), zap.Strings("args", args))

	switch cmd {
	case "exit", "quit":
		return "bye", ErrExit
	case "help", "/help":
		return help, nil
	case "/open_order":
		return c.open(ctx, args)
	case "/force_order":
		return c.force(ctx, args)
	case "/cancel_order":
		if len(args) != 1 {
			return "", usage("/cancel_order LOCAL_ID")
		}
		res, err := c.desk.Cancel(ctx, args[0])
		return res.Message, err
	case "/status":
		return renderStatus(c.desk.Status(ctx)), nil
	case "/close_all":
		return c.closeAll(ctx)
	case "/points":
		return c.pointStatus(args)
	case "/close_point":
		if c.points == nil {
			return "", errors.New("point engine is disabled")
		}
		if len(args) != 1 {
			return "", usage("/close_point POINT_ID|all")
		}
		if strings.EqualFold(args[0], "all") {
			res, err := c.points.CloseAll(ctx)
			return joinResults(res), err
		}
		res, err := c.points.ClosePoint(ctx, args[0])
		return joinResults(res), err
	}
	return "", fmt.Errorf("unknown command %q (try help)", parts[0])
}

// parsePrice reads a PRICE or the word market.
func parsePrice(s string) (price float64, market bool, err error) {
	if strings.EqualFold(s, "market") {
		return 0, true, nil
	}
	price, err = strconv.ParseFloat(s, 64)
	if err != nil || price <= 0 {
		return 0, false, fmt.Errorf("bad price %q", s)
	}
	return price, false, nil
}

func isMode(s string) bool {
	return strings.EqualFold(s, "fixed") || strings.EqualFold(s, "trailing")
}

func (c *Console) open(ctx context.Context, args []string) (string, error) {
	const form = "/open_order CODE long|short QTY [market|PRICE] [[fixed] SL TP | fixed | trailing]"
	if len(args) < 3 {
		return "", usage(form)
	}
	dir, err := ledger.ParseDirection(args[1])
	if err != nil {
		return "", err
	}
	qty, err := strconv.Atoi(args[2])
	if err != nil {
		return "", fmt.Errorf("bad quantity %q", args[2])
	}

	req := desk.OpenRequest{Instrument: args[0], Direction: dir, Qty: qty, Market: true}
	rest := args[3:]
	if len(rest) > 0 && !isMode(rest[0]) {
		req.Price, req.Market, err = parsePrice(rest[0])
		if err != nil {
			return "", err
		}
		rest = rest[1:]
	}

	fixed := len(rest) > 0 && strings.EqualFold(rest[0], "fixed")
	if fixed {
		rest = rest[1:]
	}

	switch {
	case len(rest) == 0:
	case len(rest) == 1 && !fixed && strings.EqualFold(rest[0], "trailing"):
		req.Trailing = true
	case len(rest) == 2:
		sl, err1 := strconv.ParseFloat(rest[0], 64)
		tp, err2 := strconv.ParseFloat(rest[1], 64)
		if err1 != nil || err2 != nil {
			return "", fmt.Errorf("bad stop-loss/take-profit %q %q", rest[0], rest[1])
		}
		req.StopLoss = ledger.Price(sl)
		req.TakeProfit = ledger.Price(tp)
	default:
		return "", usage(form)
	}

	res, err := c.desk.Open(ctx, req)
	return res.Message, err
}

func (c *Console) force(ctx context.Context, args []string) (string, error) {
	if len(args) < 3 || len(args) > 4 {
		return "", usage("/force_order LOCAL_ID QTY long|short [market|PRICE]")
	}
	qty, err := strconv.Atoi(args[1])
	if err != nil || qty <= 0 {
		return "", fmt.Errorf("bad quantity %q", args[1])
	}
	dir, err := ledger.ParseDirection(args[2])
	if err != nil {
		return "", err
	}
	req := desk.CloseRequest{LocalID: args[0], Qty: qty, Direction: dir, Market: true, Reason: desk.ReasonManual}
	if len(args) == 4 {
		req.Price, req.Market, err = parsePrice(args[3])
		if err != nil {
			return "", err
		}
	}
	res, err := c.desk.Close(ctx, req)
	return res.Message, err
}

func (c *Console) closeAll(ctx context.Context) (string, error) {
	res, err := c.desk.CloseAll(ctx)
	if errors.Is(err, desk.ErrNothingToClose) {
		return "no open positions to close", nil
	}
	return joinResults(res), err
}

func (c *Console) pointStatus(args []string) (string, error) {
	if c.points == nil {
		return "", errors.New("point engine is disabled")
	}
	if len(args) == 1 {
		st, err := c.points.PointStatus(args[0])
		if err != nil {
			return "", err
		}
		return renderPoints([]points.Status{st}), nil
	}
	return renderPoints(c.points.Status()), nil
}

func joinResults(res []desk.Result) string {
	lines := make([]string, 0, len(res))
	for _, r := range res {
		lines = append(lines, r.Message)
	}
	return strings.Join(lines, "\n")
}

// Run reads commands from in until exit, EOF or ctx is cancelled. Command
// failures are printed and do not stop the loop.
func (c *Console) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	fmt.Fprintln(out, "futdesk ready; type help for commands, exit to quit")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read console: %w", err)
			}
			return nil
		case line := <-lines:
			msg, err := c.Execute(ctx, line)
			if msg != "" {
				fmt.Fprintln(out, msg)
			}
			if errors.Is(err, ErrExit) {
				return nil
			}
			if err != nil {
				c.log.Info("command failed", zap.String("line", line), zap.Error(err))
				fmt.Fprintln(out, "error:", err)
			}
		}
	}
}
