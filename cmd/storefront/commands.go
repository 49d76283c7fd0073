package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/angelmondragon/packfinderz-storefront/internal/auth"
	"github.com/angelmondragon/packfinderz-storefront/internal/cart"
	product "github.com/angelmondragon/packfinderz-storefront/internal/products"
	"github.com/angelmondragon/packfinderz-storefront/pkg/config"
	pkgerrors "github.com/angelmondragon/packfinderz-storefront/pkg/errors"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
	"go.uber.org/multierr"
)

var errUsage = errors.New("usage")

const usageText = `usage: storefront [-metrics] <command>

commands:
  login -email <email> -password <password>
  logout
  products [-q <query>]
  product <id>
  cart show
  cart add <productID> [qty]
  cart update <productID> <qty>
  cart remove <productID>
  cart clear
  cart recent [n]
`

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, args []string, out io.Writer) (err error) {
	global := flag.NewFlagSet("storefront", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	showMetrics := global.Bool("metrics", false, "print client metrics on exit")
	if err := global.Parse(args); err != nil || global.NArg() == 0 {
		fmt.Fprint(os.Stderr, usageText)
		return errUsage
	}

	a, err := newApp(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer func() {
		if *showMetrics {
			err = multierr.Append(err, a.writeMetrics(out))
		}
		err = multierr.Append(err, a.close(ctx))
	}()

	return a.dispatch(ctx, global.Args(), out)
}

func (a *app) dispatch(ctx context.Context, args []string, out io.Writer) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "login":
		return a.login(ctx, rest, out)
	case "logout":
		if err := a.auth.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "signed out")
		return nil
	case "products":
		return a.listProducts(ctx, rest, out)
	case "product":
		if len(rest) != 1 {
			return usageError("product <id>")
		}
		p, err := a.products.Get(ctx, rest[0])
		if err != nil {
			return err
		}
		printProduct(out, p)
		return nil
	case "cart":
		return a.cartCommand(ctx, rest, out)
	default:
		return usageError(fmt.Sprintf("unknown command %q", cmd))
	}
}

func (a *app) login(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return usageError("login -email <email> -password <password>")
	}
	resp, err := a.auth.Login(ctx, auth.LoginRequest{Email: *email, Password: *password})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "signed in as %s\n", resp.User.Email)
	return nil
}

func (a *app) listProducts(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("products", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	query := fs.String("q", "", "search query")
	if err := fs.Parse(args); err != nil {
		return usageError("products [-q <query>]")
	}

	var (
		products []product.Product
		err      error
	)
	if *query != "" {
		products, err = a.products.Search(ctx, *query)
	} else {
		products, err = a.products.List(ctx)
	}
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tPRICE\tLOCATION")
	for _, p := range products {
		location := ""
		if p.Location != nil {
			location = p.Location.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\n", p.ID, p.Title, p.Price, location)
	}
	return tw.Flush()
}

func (a *app) cartCommand(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError("cart show|add|update|remove|clear")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "show":
		printCart(out, a.cart)
		return nil
	case "add":
		if len(rest) < 1 || len(rest) > 2 {
			return usageError("cart add <productID> [qty]")
		}
		qty := 1
		if len(rest) == 2 {
			n, err := parseQuantity(rest[1])
			if err != nil {
				return err
			}
			qty = n
		}
		p, err := a.products.Get(ctx, rest[0])
		if err != nil {
			return err
		}
		a.cart.AddToCart(*p, qty)
	case "update":
		if len(rest) != 2 {
			return usageError("cart update <productID> <qty>")
		}
		qty, err := parseQuantity(rest[1])
		if err != nil {
			return err
		}
		a.cart.UpdateQuantity(rest[0], qty)
	case "remove":
		if len(rest) != 1 {
			return usageError("cart remove <productID>")
		}
		a.cart.RemoveFromCart(rest[0])
	case "clear":
		a.cart.ClearCart()
	case "recent":
		limit := 0
		if len(rest) == 1 {
			n, err := parseQuantity(rest[0])
			if err != nil {
				return err
			}
			limit = n
		}
		for _, item := range a.cart.GetRecentItems(limit) {
			fmt.Fprintf(out, "%s\t%s\tx%d\n", item.AddedAt.Format("2006-01-02 15:04"), item.Product.Title, item.Quantity)
		}
		return nil
	default:
		return usageError(fmt.Sprintf("unknown cart command %q", sub))
	}
	printCart(out, a.cart)
	return nil
}

func parseQuantity(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be numeric").WithDetails(map[string]string{"qty": "must be an integer"})
	}
	return n, nil
}

func usageError(msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "usage: storefront "+msg)
}

func printProduct(out io.Writer, p *product.Product) {
	fmt.Fprintf(out, "%s  %s\n", p.ID, p.Title)
	fmt.Fprintf(out, "price: %.2f\n", p.Price)
	if p.Description != "" {
		fmt.Fprintf(out, "%s\n", p.Description)
	}
	if p.Location != nil {
		fmt.Fprintf(out, "location: %s (%.5f, %.5f)\n", p.Location.Name, p.Location.Latitude, p.Location.Longitude)
	}
	if p.User.Email != "" {
		fmt.Fprintf(out, "seller: %s\n", p.User.Email)
	}
	for _, img := range p.Images {
		fmt.Fprintf(out, "image: %s\n", img.URL)
	}
}

func printCart(out io.Writer, store *cart.Store) {
	items := store.Items()
	if len(items) == 0 {
		fmt.Fprintln(out, "cart is empty")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tTITLE\tQTY\tPRICE")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\n", item.Product.ID, item.Product.Title, item.Quantity, item.Product.Price)
	}
	_ = tw.Flush()
	fmt.Fprintln(out, store.GetCartSummary().String())
}
