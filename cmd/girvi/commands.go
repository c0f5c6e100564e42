package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/warp/girvi-engine/factory"
	"github.com/warp/girvi-engine/girvi"
	"github.com/warp/girvi-engine/pledge"
	"github.com/warp/girvi-engine/store/sqlite"
)

func commands(out io.Writer) []subcommands.Command {
	return []subcommands.Command{
		&interestCmd{out: out},
		&summaryCmd{out: out},
		&itemsCmd{out: out},
		&importCmd{out: out},
	}
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	return subcommands.ExitFailure
}

func printJSON(out io.Writer, v any) subcommands.ExitStatus {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

// openEngine opens the sqlite file at path and returns an engine over it.
func openEngine(ctx context.Context, path string) (*girvi.Engine, func(), error) {
	if path == "" {
		return nil, nil, fmt.Errorf("-db is required")
	}
	st, err := sqlite.New(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	return girvi.New(st), func() { st.Close() }, nil
}

func optionalDate(s string) (pledge.Date, error) {
	if s == "" {
		return pledge.Date{}, nil
	}
	return pledge.ParseDate(s)
}

// =============================================================================
// interest
// =============================================================================

type interestCmd struct {
	out         io.Writer
	principal   string
	rate        string
	compounding string
	from        string
	to          string
	simple      bool
}

func (*interestCmd) Name() string     { return "interest" }
func (*interestCmd) Synopsis() string { return "compute interest on a principal between two dates" }
func (*interestCmd) Usage() string {
	return `girvi interest -principal <amount> -rate <pct> -from <date> [-to <date>] [-compounding <freq> | -simple]

  Compound interest by default, as charged to customers. -simple gives the
  dealer-side simple interest on 365 days a year.
`
}

func (c *interestCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.principal, "principal", "", "Principal amount, e.g. 50000.")
	f.StringVar(&c.rate, "rate", "", "Annual rate in percent, e.g. 24.")
	f.StringVar(&c.compounding, "compounding", "monthly", "daily, monthly, quarterly or annually.")
	f.StringVar(&c.from, "from", "", "Start date (YYYY-MM-DD).")
	f.StringVar(&c.to, "to", "", "End date (YYYY-MM-DD), defaults to today.")
	f.BoolVar(&c.simple, "simple", false, "Use simple interest.")
}

func (c *interestCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	principal, err := pledge.ParseMoney(c.principal)
	if err != nil {
		return fail(err)
	}
	rate, err := decimal.NewFromString(c.rate)
	if err != nil {
		return fail(fmt.Errorf("-rate: %w", err))
	}
	from, err := pledge.ParseDate(c.from)
	if err != nil {
		return fail(err)
	}
	to := pledge.Today()
	if c.to != "" {
		if to, err = pledge.ParseDate(c.to); err != nil {
			return fail(err)
		}
	}

	var interest pledge.Money
	if c.simple {
		interest, err = pledge.SimpleInterest(principal, rate, from, to)
	} else {
		var comp pledge.Compounding
		if comp, err = pledge.ParseCompounding(c.compounding); err != nil {
			return fail(err)
		}
		interest, err = pledge.CompoundInterest(principal, rate, comp, from, to)
	}
	if err != nil {
		return fail(err)
	}

	fmt.Fprintf(c.out, "days:     %d\n", pledge.DaysBetween(from, to))
	fmt.Fprintf(c.out, "interest: %s\n", interest.Value.StringFixed(pledge.PaisePlaces))
	fmt.Fprintf(c.out, "total:    %s\n", principal.Add(interest).Value.StringFixed(pledge.PaisePlaces))
	return subcommands.ExitSuccess
}

// =============================================================================
// summary
// =============================================================================

type summaryCmd struct {
	out  io.Writer
	db   string
	asOf string
}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "print item counts and both ledgers' totals as JSON" }
func (*summaryCmd) Usage() string {
	return `girvi summary -db <path> [-as-of <date>]
`
}

func (c *summaryCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.db, "db", "girvi.db", "SQLite database path.")
	f.StringVar(&c.asOf, "as-of", "", "Accrual date (YYYY-MM-DD), defaults to today.")
}

func (c *summaryCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	asOf, err := optionalDate(c.asOf)
	if err != nil {
		return fail(err)
	}
	eng, closeFn, err := openEngine(ctx, c.db)
	if err != nil {
		return fail(err)
	}
	defer closeFn()

	s, err := eng.Summary(ctx, asOf)
	if err != nil {
		return fail(err)
	}
	return printJSON(c.out, s)
}

// =============================================================================
// items
// =============================================================================

type itemsCmd struct {
	out      io.Writer
	db       string
	state    string
	customer string
}

func (*itemsCmd) Name() string     { return "items" }
func (*itemsCmd) Synopsis() string { return "list items as JSON" }
func (*itemsCmd) Usage() string {
	return `girvi items -db <path> [-state in_hand|with_dealer|released] [-customer <id>]
`
}

func (c *itemsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.db, "db", "girvi.db", "SQLite database path.")
	f.StringVar(&c.state, "state", "", "Only items in this custody state.")
	f.StringVar(&c.customer, "customer", "", "Only items of this customer.")
}

func (c *itemsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	state := pledge.CustodyState(c.state)
	if state != "" && !state.IsValid() {
		return fail(fmt.Errorf("unknown state %q", c.state))
	}
	eng, closeFn, err := openEngine(ctx, c.db)
	if err != nil {
		return fail(err)
	}
	defer closeFn()

	items, err := eng.Registry.AllItems(ctx, pledge.ItemFilter{State: state, CustomerID: pledge.CustomerID(c.customer)})
	if err != nil {
		return fail(err)
	}
	f := factory.NewItemFactory(decimal.Zero, "")
	docs := make([]factory.ItemJSON, len(items))
	for i, it := range items {
		docs[i] = f.ToJSON(it)
	}
	return printJSON(c.out, docs)
}

// =============================================================================
// import
// =============================================================================

type importCmd struct {
	out         io.Writer
	db          string
	file        string
	rate        string
	compounding string
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "create items from a JSON intake file" }
func (*importCmd) Usage() string {
	return `girvi import -db <path> -file <items.json> [-rate <pct>] [-compounding <freq>]

  The file holds one item definition or an array of them. -rate and
  -compounding apply to items that omit them. Stops at the first rejected item.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.db, "db", "girvi.db", "SQLite database path.")
	f.StringVar(&c.file, "file", "", "JSON file with item definitions.")
	f.StringVar(&c.rate, "rate", "24", "Default annual rate in percent.")
	f.StringVar(&c.compounding, "compounding", "monthly", "Default compounding frequency.")
}

func (c *importCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rate, err := decimal.NewFromString(c.rate)
	if err != nil {
		return fail(fmt.Errorf("-rate: %w", err))
	}
	comp, err := pledge.ParseCompounding(c.compounding)
	if err != nil {
		return fail(err)
	}
	data, err := os.ReadFile(c.file)
	if err != nil {
		return fail(err)
	}
	inputs, err := factory.NewItemFactory(rate, comp).Parse(data)
	if err != nil {
		return fail(err)
	}

	eng, closeFn, err := openEngine(ctx, c.db)
	if err != nil {
		return fail(err)
	}
	defer closeFn()

	for _, in := range inputs {
		item, err := eng.Registry.Create(ctx, in)
		if err != nil {
			return fail(err)
		}
		fmt.Fprintf(c.out, "created %s (%s)\n", item.ID, item.Principal)
	}
	return subcommands.ExitSuccess
}
