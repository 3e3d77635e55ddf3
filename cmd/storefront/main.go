// Command storefront is a command-line client for the pharmacy storefront
// API.  It keeps the session in a local file so successive invocations
// stay logged in.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	// library logging is for debugging only
	if os.Getenv("STOREFRONT_DEBUG") == "" {
		log.SetOutput(io.Discard)
	}

	cfgPath := os.Getenv("STOREFRONT_CONFIG")
	if cfgPath == "" {
		cfgPath = "storefront.yaml"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := NewCommandRegistry(func() (*app, error) { return newApp(cfgPath) })
	registerCommands(registry)

	if err := registry.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", describe(err))
		stop()
		os.Exit(1)
	}
}

func registerCommands(r *CommandRegistry) {
	r.Register(&Command{
		Name:        "login",
		Description: "Log in and remember the session",
		Usage:       "storefront login --username <name> [--password <pw>]",
		Examples:    []string{"STOREFRONT_PASSWORD=... storefront login --username amira"},
		Run:         loginCommand,
	})
	r.Register(&Command{
		Name:        "register",
		Description: "Create an account and log in",
		Usage:       "storefront register --username <name> --email <email> --password <pw> [--first-name x] [--last-name y]",
		Run:         registerCommand,
	})
	r.Register(&Command{
		Name:        "logout",
		Description: "Forget the stored session",
		Usage:       "storefront logout",
		Run:         logoutCommand,
	})
	r.Register(&Command{
		Name:        "whoami",
		Description: "Show the logged-in user",
		Usage:       "storefront whoami",
		Run:         whoamiCommand,
	})
	r.Register(&Command{
		Name:        "forgot-password",
		Description: "Request a password reset email",
		Usage:       "storefront forgot-password --email <email>",
		Run:         forgotPasswordCommand,
	})
	r.Register(&Command{
		Name:        "reset-password",
		Description: "Set a new password with a reset token",
		Usage:       "storefront reset-password --token <token> --password <pw>",
		Run:         resetPasswordCommand,
	})
	r.Register(&Command{
		Name:        "products",
		Description: "List or search products",
		Usage:       "storefront products [--category <id>] [search terms]",
		Examples:    []string{"storefront products", "storefront products --category 2 vitamin"},
		Run:         productsCommand,
	})
	r.Register(&Command{
		Name:        "categories",
		Description: "List product categories",
		Usage:       "storefront categories",
		Run:         categoriesCommand,
	})
	r.Register(&Command{
		Name:        "suggest",
		Description: "Type-ahead product suggestions, keystroke by keystroke",
		Usage:       "storefront suggest <text>",
		Examples:    []string{"storefront suggest panadol"},
		Run:         suggestCommand,
	})
	r.Register(&Command{
		Name:        "cart",
		Description: "Show the cart",
		Usage:       "storefront cart",
		Run:         cartCommand,
	})
	r.Register(&Command{
		Name:        "add",
		Description: "Add a product to the cart",
		Usage:       "storefront add <product-id> [quantity]",
		Examples:    []string{"storefront add 12", "storefront add 12 3"},
		Run:         addCommand,
	})
	r.Register(&Command{
		Name:        "set",
		Description: "Set the quantity of a cart line (0 removes it)",
		Usage:       "storefront set <item-id> <quantity>",
		Run:         setCommand,
	})
	r.Register(&Command{
		Name:        "remove",
		Description: "Remove a cart line",
		Usage:       "storefront remove <item-id>",
		Run:         removeCommand,
	})
	r.Register(&Command{
		Name:        "clear",
		Description: "Empty the cart",
		Usage:       "storefront clear",
		Run:         clearCommand,
	})
	r.Register(&Command{
		Name:        "checkout",
		Description: "Place a cash-on-delivery order for the cart",
		Usage:       "storefront checkout --address <address-id>",
		Run:         checkoutCommand,
	})
	r.Register(&Command{
		Name:        "orders",
		Description: "List your orders",
		Usage:       "storefront orders",
		Run:         ordersCommand,
	})
	r.Register(&Command{
		Name:        "addresses",
		Description: "List delivery addresses",
		Usage:       "storefront addresses",
		Run:         addressesCommand,
	})
	r.Register(&Command{
		Name:        "add-address",
		Description: "Add a delivery address",
		Usage:       "storefront add-address --full-name <n> --phone <+9715...> --street <s> --area <a> --city <c> --emirate <e> [--building b] [--default]",
		Run:         addAddressCommand,
	})
}
