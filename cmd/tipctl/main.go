package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"tipsettle/cmd/internal/passphrase"
	"tipsettle/crypto"
	"tipsettle/gateway/auth"
	"tipsettle/gateway/routes"
	"tipsettle/native/tipping"
)

const defaultPassEnv = "TIP_KEYSTORE_PASSPHRASE"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:], os.Stdout)
	case "address":
		err = runAddress(os.Args[2:], os.Stdout)
	case "digest":
		err = runDigest(os.Args[2:], os.Stdout)
	case "sign":
		err = runSign(os.Args[2:], os.Stdout)
	case "call":
		err = runCall(os.Args[2:], os.Stdout)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: tipctl <command> [flags]

Commands:
  keygen   create a new keystore
  address  print the address stored in a keystore
  digest   compute the digest of a tip intent
  sign     sign a tip intent with a relayer keystore
  call     send a wallet-signed request to tipd`)
}

func loadKey(path, passEnv string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("--keystore is required")
	}
	pass, err := passphrase.NewSource(passEnv, "wallet").Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	path := fs.String("out", "wallet.keystore", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		if _, err := os.Stat(*path); err == nil {
			return fmt.Errorf("keystore file %s already exists (use --force to overwrite)", *path)
		}
	}
	pass, err := passphrase.NewSource(*passEnv, "wallet").Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*path, key, pass); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	fmt.Fprintf(out, "%s\n%s\n", key.PubKey().EthAddress().Hex(), key.PubKey().Address().String())
	return nil
}

func runAddress(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	path := fs.String("keystore", "", "Path to the keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	addr, err := crypto.KeystoreAddress(*path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n%s\n", addr.Hex(), crypto.FromCommon(addr).String())
	return nil
}

func intentFlags(fs *flag.FlagSet) *routes.IntentRequest {
	req := &routes.IntentRequest{}
	fs.StringVar(&req.From, "from", "", "Tipping account (hex or bech32)")
	fs.StringVar(&req.To, "to", "", "Recipient account (hex or bech32)")
	fs.StringVar(&req.Amount, "amount", "", "Amount in base units")
	fs.StringVar(&req.Nonce, "nonce", "0", "Intent nonce")
	fs.StringVar(&req.ContentPointer, "content", "", "Content pointer hashed into the content reference")
	fs.StringVar(&req.ContentRef, "content-ref", "", "Precomputed 32 byte content reference")
	return req
}

func runDigest(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("digest", flag.ContinueOnError)
	req := intentFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	intent, err := req.Intent()
	if err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(routes.DigestResponse{
		Digest: tipping.Digest(intent).Hex(),
		Packed: hexutil.Encode(tipping.EncodePacked(intent)),
	})
}

func runSign(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sign", flag.ContinueOnError)
	req := intentFlags(fs)
	path := fs.String("keystore", "", "Relayer keystore")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	intent, err := req.Intent()
	if err != nil {
		return err
	}
	key, err := loadKey(*path, *passEnv)
	if err != nil {
		return err
	}
	_, sig, err := tipping.SignIntent(key.PrivateKey, intent)
	if err != nil {
		return err
	}
	return json.NewEncoder(out).Encode(routes.SettleRequest{
		Intent:    *req,
		Signature: "0x" + hex.EncodeToString(sig.Bytes()),
	})
}

func runCall(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	base := fs.String("url", "http://127.0.0.1:8080", "tipd base URL")
	method := fs.String("method", http.MethodPost, "HTTP method")
	path := fs.String("path", "", "Request path, e.g. /v1/stake")
	data := fs.String("data", "", "JSON request body")
	keystore := fs.String("keystore", "", "Wallet keystore used to sign the request")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	timeout := fs.Duration("timeout", 10*time.Second, "Request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !strings.HasPrefix(*path, "/") {
		return fmt.Errorf("--path must start with /")
	}
	key, err := loadKey(*keystore, *passEnv)
	if err != nil {
		return err
	}
	body := []byte(*data)
	req, err := http.NewRequest(strings.ToUpper(*method), strings.TrimRight(*base, "/")+*path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := auth.SignRequest(req, key.PrivateKey, body, time.Now()); err != nil {
		return err
	}
	client := &http.Client{Timeout: *timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n", bytes.TrimSpace(payload))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return nil
}
