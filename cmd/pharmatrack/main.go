package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"pharmatrack/internal"
	"pharmatrack/internal/app"
	"pharmatrack/internal/catalog"
	"pharmatrack/internal/config"
	"pharmatrack/internal/expiry"
	"pharmatrack/internal/logger"
	"pharmatrack/internal/pipeline"
	"pharmatrack/internal/util"
)

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.FromAppConfig(cfg))
	must(err)

	a, err := app.New(cfg, log)
	must(err)
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	switch cmd {
	case "catalog:import":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "catalog file (csv or txt)")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		summary, err := a.Catalog.ImportFile(ctx, *file)
		must(err)
		fmt.Println(summary.Message())
	case "catalog:export":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", filepath.Join(cfg.OutputDir, "catalog.csv"), "output csv path")
		_ = fs.Parse(os.Args[2:])
		records, err := a.DB.ListCatalogProducts(ctx)
		must(err)
		must(os.MkdirAll(filepath.Dir(*out), 0o755))
		f, err := os.Create(*out)
		must(err)
		err = catalog.ExportCSV(f, records)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		must(err)
		fmt.Printf("exported %d catalog products to %s\n", len(records), *out)
	case "invoice:upload":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "delivery note (pdf, html, xlsx or txt)")
		zone := fs.String("zone", "", "storage zone")
		operator := fs.String("operator", "", "operator name")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		content, err := os.ReadFile(*file)
		must(err)
		doc := pipeline.Document{
			Filename:    filepath.Base(*file),
			ContentType: mime.TypeByExtension(filepath.Ext(*file)),
			Content:     content,
			Source:      internal.SourceUpload,
		}
		out, err := a.Processing.ProcessDocument(ctx, doc, pipeline.Options{Zone: *zone, Operator: util.OptionalString(*operator)})
		if err != nil {
			fmt.Fprintf(os.Stderr, "extraction failed: %v\n", err)
			fmt.Printf("uploaded %s textLength=%d products=0\n", out.Filename, out.TextLength)
			return
		}
		fmt.Printf("uploaded %s status=%s invoice=%s products=%d textLength=%d\n", out.Filename, out.Status, out.InvoiceID, out.Products, out.TextLength)
	case "invoice:list":
		invoices, err := a.DB.ListInvoices(ctx)
		must(err)
		for _, inv := range invoices {
			fmt.Printf("%s\t%s\t%s\t%s\t%d products\n", inv.ID, inv.UploadDate.Local().Format("2006-01-02 15:04"), inv.Source, inv.Filename, len(inv.Products))
		}
	case "invoice:rename":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "invoice id")
		filename := fs.String("filename", "", "new filename")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*id) == "" || strings.TrimSpace(*filename) == "" {
			must(fmt.Errorf("--id and --filename are required"))
		}
		must(a.DB.RenameInvoice(ctx, *id, strings.TrimSpace(*filename)))
		fmt.Printf("invoice %s renamed\n", *id)
	case "invoice:delete":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "invoice id")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*id) == "" {
			must(fmt.Errorf("--id is required"))
		}
		must(a.DB.DeleteInvoice(ctx, *id))
		fmt.Printf("invoice %s deleted\n", *id)
	case "mail:sync":
		svc, err := a.MailSync()
		must(err)
		res, err := svc.SyncOnce(ctx)
		must(err)
		printJSON(res)
	case "mail:listen":
		svc, err := a.Listener()
		must(err)
		must(svc.Run(ctx))
	case "products:check":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		code := fs.String("code", "", "EAN/CIP code")
		_ = fs.Parse(os.Args[2:])
		rows, err := a.Manual.CheckProduct(ctx, *code)
		must(err)
		if len(rows) == 0 {
			fmt.Printf("no product recorded for %s\n", *code)
			return
		}
		for _, p := range rows {
			fmt.Printf("%s\t%s\tqty=%s\texp=%s\tlot=%s\tzone=%s\toperator=%s\n",
				p.CreatedAt.Local().Format("2006-01-02 15:04"), p.Name, util.Deref(p.Quantity),
				util.Deref(p.ExpirationDate), util.Deref(p.LotNumber), p.Zone, util.Deref(p.Operator))
		}
	case "manual:batch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "JSON array of {code13, quantity, expirationDate}")
		zone := fs.String("zone", "", "storage zone")
		operator := fs.String("operator", "", "operator name")
		_ = fs.Parse(os.Args[2:])
		if strings.TrimSpace(*file) == "" {
			must(fmt.Errorf("--file is required"))
		}
		blob, err := os.ReadFile(*file)
		must(err)
		var inputs []pipeline.ManualProductInput
		must(json.Unmarshal(blob, &inputs))
		res, err := a.Manual.CreateBatch(ctx, inputs, *zone, util.OptionalString(*operator))
		must(err)
		fmt.Printf("manual batch %s saved invoice=%s products=%d\n", res.Filename, res.InvoiceID, res.Count)
	case "report:expiry":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		mode := fs.String("mode", "all", "all|critical|warning|custom")
		from := fs.String("from", "", "custom range start (YYYY-MM-DD)")
		to := fs.String("to", "", "custom range end (YYYY-MM-DD)")
		search := fs.String("search", "", "name, code or lot")
		out := fs.String("out", "", "optional xlsx output path")
		_ = fs.Parse(os.Args[2:])

		m, err := expiry.ParseMode(*mode)
		must(err)
		filter := expiry.Filter{Mode: m, Search: *search}
		filter.From, err = parseDay(*from)
		must(err)
		filter.To, err = parseDay(*to)
		must(err)

		report, err := a.ExpiryReport(ctx, filter)
		must(err)
		for _, r := range report.Rows {
			days := "-"
			if r.DaysRemaining != nil {
				days = fmt.Sprintf("%d", *r.DaysRemaining)
			}
			fmt.Printf("%-8s\t%5s\t%s\t%s\t%s\tlot=%s\n", r.Urgency, days, util.Deref(r.Code13), r.Name, util.Deref(r.ExpirationDate), util.Deref(r.LotNumber))
		}
		s := report.Summary
		fmt.Printf("total=%d critical=%d warning=%d good=%d unknown=%d\n", s.Total, s.Critical, s.Warning, s.Good, s.Unknown)
		if strings.TrimSpace(*out) != "" {
			must(pipeline.ExportExpiryXLSX(report, *out))
			fmt.Printf("exported %d rows to %s\n", len(report.Rows), *out)
		}
	case "report:discounts":
		lines, sum, err := a.DiscountReport(ctx)
		must(err)
		for _, l := range lines {
			expected := "-"
			if l.Expected != nil {
				expected = l.Expected.StringFixed(2)
			}
			fmt.Printf("%-10s\t%s\t%s\tbrut=%s\tremise=%s\tnet=%s\tattendu=%s\n", l.Status, util.Deref(l.Code13), l.Name,
				util.Deref(l.PrixSansRemise), util.Deref(l.Remise), util.Deref(l.PrixRemisee), expected)
		}
		fmt.Printf("ok=%d mismatch=%d incomplete=%d\n", sum.OK, sum.Mismatch, sum.Incomplete)
	default:
		usage()
		os.Exit(1)
	}
}

func parseDay(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, want YYYY-MM-DD", v)
	}
	return &t, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	must(enc.Encode(v))
}

func usage() {
	fmt.Println("usage: pharmatrack <command>")
	fmt.Println("commands:")
	fmt.Println("  catalog:import --file=stock.csv")
	fmt.Println("  catalog:export [--out=./out/catalog.csv]")
	fmt.Println("  invoice:upload --file=BL.pdf [--zone=DEPOT] [--operator=...]")
	fmt.Println("  invoice:list")
	fmt.Println("  invoice:rename --id=... --filename=...")
	fmt.Println("  invoice:delete --id=...")
	fmt.Println("  mail:sync")
	fmt.Println("  mail:listen")
	fmt.Println("  products:check --code=3400930000001")
	fmt.Println("  manual:batch --file=entries.json [--zone=...] [--operator=...]")
	fmt.Println("  report:expiry [--mode=all|critical|warning|custom] [--from=YYYY-MM-DD] [--to=YYYY-MM-DD] [--search=...] [--out=report.xlsx]")
	fmt.Println("  report:discounts")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
