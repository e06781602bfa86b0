// hnsd-wallet is a command-line wallet: it creates and unlocks encrypted
// keystores, derives addresses, and reports balances by querying a node
// over JSON-RPC. Passphrases are always read from the terminal, never
// passed on the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/term"

	"github.com/hnsd-go/hnscore/internal/events"
	"github.com/hnsd-go/hnscore/internal/nodeclient"
	"github.com/hnsd-go/hnscore/internal/rpcclient"
	"github.com/hnsd-go/hnscore/internal/store"
	"github.com/hnsd-go/hnscore/internal/wallet"
	"github.com/hnsd-go/hnscore/internal/walletdb"
	"github.com/hnsd-go/hnscore/pkg/tx"
	"github.com/hnsd-go/hnscore/pkg/types"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "hnsd-wallet:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		usage()
		return fmt.Errorf("missing command")
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "create":
		return cmdCreate(rest)
	case "address":
		return cmdAddress(rest)
	case "balance":
		return cmdBalance(rest)
	case "send":
		return cmdSend(rest)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: hnsd-wallet <command> [flags]

commands:
  create  -name <wallet>                                  generate a new wallet
  address -name <wallet> [-change]                         derive the next address
  balance -name <wallet> -rpc <endpoint> -addr <address>    query a balance
  send    -name <wallet> -rpc <endpoint> -from <addr> -to <addr> -value <amount>`)
}

func keystoreDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".hnsd-wallet")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func readPassphrase(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return pw, nil
}

func openKeystore() (*wallet.Keystore, error) {
	dir, err := keystoreDir()
	if err != nil {
		return nil, err
	}
	return wallet.NewKeystore(dir)
}

// cmdCreate generates a fresh mnemonic, derives its seed, and stores it
// encrypted under the wallet name. The mnemonic is printed once so the
// operator can write it down; it is never persisted in plaintext.
func cmdCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "wallet name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("-name is required")
	}

	ks, err := openKeystore()
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		return fmt.Errorf("generate mnemonic: %w", err)
	}

	pass, err := readPassphrase("new wallet passphrase: ")
	if err != nil {
		return err
	}
	confirm, err := readPassphrase("confirm passphrase: ")
	if err != nil {
		return err
	}
	if string(pass) != string(confirm) {
		return fmt.Errorf("passphrases do not match")
	}

	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return fmt.Errorf("derive seed: %w", err)
	}

	if err := ks.Create(*name, seed, pass, wallet.DefaultParams()); err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}

	fmt.Printf("wallet %q created\nrecovery phrase (write this down, it is shown only once):\n\n%s\n\n", *name, mnemonic)
	return nil
}

// cmdAddress unlocks the wallet and derives the next address on the
// external (deposit) or internal (change) chain, recording the account
// entry and bumping the keystore's index so the same address is never
// handed out twice.
func cmdAddress(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	name := fs.String("name", "", "wallet name")
	change := fs.Bool("change", false, "derive a change address instead of an external one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("-name is required")
	}

	ks, err := openKeystore()
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}

	pass, err := readPassphrase("wallet passphrase: ")
	if err != nil {
		return err
	}

	seed, err := ks.Load(*name, pass)
	if err != nil {
		return fmt.Errorf("unlock wallet: %w", err)
	}

	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		return fmt.Errorf("derive master key: %w", err)
	}

	var changeVal, index uint32
	if *change {
		changeVal = 1
		index, err = ks.GetChangeIndex(*name)
	} else {
		index, err = ks.GetExternalIndex(*name)
	}
	if err != nil {
		return fmt.Errorf("read index: %w", err)
	}

	child, err := master.DeriveAddress(0, changeVal, index)
	if err != nil {
		return fmt.Errorf("derive address: %w", err)
	}
	addr := child.Address()

	entry := wallet.AccountEntry{Index: index, Change: changeVal, Name: *name, Address: addr.Hex()}
	if err := ks.AddAccount(*name, entry); err != nil {
		return fmt.Errorf("record account: %w", err)
	}
	if *change {
		err = ks.IncrementChangeIndex(*name)
	} else {
		err = ks.IncrementExternalIndex(*name)
	}
	if err != nil {
		return fmt.Errorf("advance index: %w", err)
	}

	fmt.Println(addr.String())
	return nil
}

// openWalletDB opens the shared Badger database at ~/.hnsd-wallet/chain.db,
// scoped under a store.PrefixDB ("wallet/<name>/") so every wallet's book
// keeps its own key space within that one database.
func openWalletDB(name string) (*walletdb.WalletDB, func() error, error) {
	dir, err := keystoreDir()
	if err != nil {
		return nil, nil, err
	}
	db, err := store.OpenBadger(filepath.Join(dir, "chain.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	scoped := store.NewPrefixDB(db, []byte("wallet/"+name+"/"))
	wdb, err := walletdb.Open(scoped, events.NewBus())
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open wallet database: %w", err)
	}
	return wdb, db.Close, nil
}

// cmdBalance reports the confirmed/unconfirmed/locked balance for a
// watched address, replaying node-observed transactions via Rescan to
// bring the local book up to date first.
func cmdBalance(args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	name := fs.String("name", "", "wallet name")
	rpc := fs.String("rpc", "http://127.0.0.1:13037", "node JSON-RPC endpoint")
	addrStr := fs.String("addr", "", "address to report (hex or bech32)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *addrStr == "" {
		return fmt.Errorf("-name and -addr are required")
	}

	addr, err := parseAddress(*addrStr)
	if err != nil {
		return err
	}

	wdb, closeDB, err := openWalletDB(*name)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := wdb.Watch(addr); err != nil {
		return fmt.Errorf("watch address: %w", err)
	}

	client := nodeclient.NewRPCClient(rpcclient.New(*rpc))
	client.SetFilter([]types.Address{addr})

	ctx := context.Background()
	if err := client.Rescan(ctx, 0, func(res nodeclient.ScanResult) error {
		for _, t := range res.Txs {
			if _, err := wdb.Insert(t, res.Header.Hash, res.Header.Height, res.Header.Time); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("rescan: %w", err)
	}

	bal, err := wdb.GetBalance(addr)
	if err != nil {
		return fmt.Errorf("get balance: %w", err)
	}

	fmt.Printf("transactions:      %d\n", bal.TxCount)
	fmt.Printf("coins:             %d\n", bal.CoinCount)
	fmt.Printf("confirmed:         %d\n", bal.Confirmed)
	fmt.Printf("unconfirmed:       %d\n", bal.Unconfirmed)
	fmt.Printf("confirmed locked:  %d\n", bal.ConfirmedLocked)
	fmt.Printf("unconfirmed locked:%d\n", bal.UnconfirmedLocked)
	return nil
}

// cmdSend selects coins covering -value from the watched address's
// unspent outputs, signs a transfer to -to, and broadcasts it.
func cmdSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	name := fs.String("name", "", "wallet name")
	rpc := fs.String("rpc", "http://127.0.0.1:13037", "node JSON-RPC endpoint")
	fromStr := fs.String("from", "", "source address (hex or bech32)")
	toStr := fs.String("to", "", "destination address (hex or bech32)")
	value := fs.Uint64("value", 0, "amount to send")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *fromStr == "" || *toStr == "" || *value == 0 {
		return fmt.Errorf("-name, -from, -to, and -value are required")
	}

	from, err := parseAddress(*fromStr)
	if err != nil {
		return err
	}
	to, err := parseAddress(*toStr)
	if err != nil {
		return err
	}

	ks, err := openKeystore()
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	pass, err := readPassphrase("wallet passphrase: ")
	if err != nil {
		return err
	}
	seed, err := ks.Load(*name, pass)
	if err != nil {
		return fmt.Errorf("unlock wallet: %w", err)
	}
	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		return fmt.Errorf("derive master key: %w", err)
	}

	wdb, closeDB, err := openWalletDB(*name)
	if err != nil {
		return err
	}
	defer closeDB()

	utxos, err := wdb.ListUTXOs(from)
	if err != nil {
		return fmt.Errorf("list utxos: %w", err)
	}

	sel, err := wallet.SelectCoins(utxos, *value)
	if err != nil {
		return fmt.Errorf("select coins: %w", err)
	}

	accounts, err := ks.ListAccounts(*name)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	var signer *wallet.HDKey
	for _, a := range accounts {
		if a.Address == from.Hex() {
			change, index := a.Derivation()
			signer, err = master.DeriveAddress(0, change, index)
			if err != nil {
				return fmt.Errorf("derive signer: %w", err)
			}
			break
		}
	}
	if signer == nil {
		return fmt.Errorf("no account found for address %s", from.String())
	}
	key, err := signer.Signer()
	if err != nil {
		return fmt.Errorf("derive signing key: %w", err)
	}

	builder := tx.NewBuilder()
	for _, u := range sel.Inputs {
		builder.AddInput(u.Outpoint)
	}
	builder.AddOutput(*value, to)
	if sel.Change > 0 {
		builder.AddOutput(sel.Change, from)
	}
	if err := builder.Sign(key); err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	built := builder.Build()

	client := nodeclient.NewRPCClient(rpcclient.New(*rpc))
	if err := client.Send(context.Background(), built); err != nil {
		return fmt.Errorf("broadcast: %w", err)
	}

	fmt.Printf("sent %s -> %s: %d\ntxid: %s\n", from.String(), to.String(), *value, built.Hash().String())
	return nil
}

// parseAddress accepts either a bech32 or raw-hex address string.
func parseAddress(s string) (types.Address, error) {
	return types.ParseAddress(s)
}
