// Package addrs lists local addresses console may connect to.
package addrs

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/juju/errors"
	"github.com/skip2/go-qrcode"
	"github.com/temoto/svlink/cmd/svlink/subcmd"
	"github.com/temoto/svlink/log2"
	"github.com/temoto/svlink/state"
)

const modName = "addrs"

var Mod = subcmd.Mod{Name: modName, Usage: "[-qr] list local addresses for console", Main: Main}

func Main(ctx context.Context, config *state.Config, args []string) error {
	return run(ctx, os.Stdout, config, args)
}

func run(ctx context.Context, w io.Writer, config *state.Config, args []string) error {
	log := log2.ContextValueLogger(ctx)
	flagset := flag.NewFlagSet(modName, flag.ContinueOnError)
	flagQR := flagset.Bool("qr", false, "print QR code for each URL")
	if err := flagset.Parse(args); err != nil {
		return errors.Trace(err)
	}

	_, port, err := net.SplitHostPort(strings.TrimPrefix(config.ListenOptions().StreamURL, "tcp://"))
	if err != nil {
		return errors.Annotate(err, "server.listen")
	}
	ips, err := localIPs()
	if err != nil {
		return err
	}
	log.Debugf("addrs port=%s local=%v", port, ips)
	return printURLs(w, URLs(ips, port), *flagQR)
}

// URLs formats console addresses, loopback always included.
func URLs(ips []net.IP, port string) []string {
	r := make([]string, 0, len(ips)+1)
	seen := make(map[string]struct{}, len(ips)+1)
	all := make([]net.IP, 0, len(ips)+1)
	all = append(all, ips...)
	for _, ip := range append(all, net.IPv4(127, 0, 0, 1)) {
		s := "tcp://" + net.JoinHostPort(ip.String(), port)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		r = append(r, s)
	}
	return r
}

func localIPs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, errors.Annotate(err, "interface addrs")
	}
	r := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.To4() == nil {
			continue
		}
		r = append(r, ipnet.IP)
	}
	return r, nil
}

func printURLs(w io.Writer, urls []string, qr bool) error {
	for _, u := range urls {
		fmt.Fprintln(w, u)
		if qr {
			s, err := QRString(u)
			if err != nil {
				return err
			}
			fmt.Fprint(w, s)
		}
	}
	return nil
}

// QRString renders text as terminal blocks, two characters per module.
func QRString(text string) (string, error) {
	qr, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return "", errors.Annotate(err, "QR")
	}
	bitmap := qr.Bitmap()
	b := strings.Builder{}
	b.Grow(len(bitmap) * (len(bitmap)*2*3 + 1))
	for _, row := range bitmap {
		for _, dark := range row {
			if dark {
				b.WriteString("  ")
			} else {
				b.WriteString("██")
			}
		}
		b.WriteRune('\n')
	}
	return b.String(), nil
}
