// Command hangar-server starts the remote protocol server (§4.7) over
// one on-disk repository, wiring configuration, logging and the
// repository engine together. Modeled on cmd/registry/main.go from the
// teacher: a flag-resolved configuration path, a single App-equivalent
// (here, remote.Server) built from it, and a plain http.ListenAndServe.
package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/hangarstor/hangar/checkout"
	"github.com/hangarstor/hangar/config"
	"github.com/hangarstor/hangar/internal/dcontext"
	"github.com/hangarstor/hangar/remote"

	_ "github.com/hangarstor/hangar/backend/container"
	_ "github.com/hangarstor/hangar/backend/diskstore"
	_ "github.com/hangarstor/hangar/backend/memory"
)

var showVersion bool

func init() {
	flag.BoolVar(&showVersion, "version", false, "show the version and exit")
}

const version = "0.1.0-dev"

func main() {
	flag.Usage = usage
	flag.Parse()

	if showVersion {
		fmt.Println("hangar-server", version)
		return
	}

	configPath := resolveConfigurationPath()
	if configPath == "" {
		fatalf("configuration path unspecified")
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		fatalf("reading %s: %v", configPath, err)
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		fatalf("parsing %s: %v", configPath, err)
	}
	configureLogging(cfg.Log)

	repo, err := checkout.Open(cfg.Repository.Root)
	if err != nil {
		fatalf("opening repository at %s: %v", cfg.Repository.Root, err)
	}
	defer repo.Close()

	auth, err := loadAuthenticator(cfg.Server)
	if err != nil {
		fatalf("loading credentials: %v", err)
	}

	srv := remote.NewServer(repo, cfg.Server, auth)

	if cfg.Server.Addr == "" {
		fatalf("server.addr is required to run hangar-server")
	}

	if !hasTLSCertificate(cfg) {
		log.Infof("listening on %v", cfg.Server.Addr)
		if err := http.ListenAndServe(cfg.Server.Addr, srv); err != nil {
			log.Fatal(err)
		}
		return
	}

	log.Infof("listening on %v, tls", cfg.Server.Addr)
	tlsConf := &tls.Config{ClientAuth: tls.NoClientCert}
	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: srv, TLSConfig: tlsConf}
	if err := httpServer.ListenAndServeTLS(tlsCertPath, tlsKeyPath); err != nil {
		log.Fatal(err)
	}
}

// tlsCertPath and tlsKeyPath are populated by flags when TLS is wanted;
// most repositories run the remote server behind a reverse proxy
// instead, so TLS here is optional.
var (
	tlsCertPath string
	tlsKeyPath  string
)

func init() {
	flag.StringVar(&tlsCertPath, "tls-cert", "", "TLS certificate path")
	flag.StringVar(&tlsKeyPath, "tls-key", "", "TLS key path")
}

func hasTLSCertificate(cfg *config.Configuration) bool {
	_ = cfg
	return tlsCertPath != "" && tlsKeyPath != ""
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:", os.Args[0], "<config>")
	flag.PrintDefaults()
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	usage()
	os.Exit(1)
}

func resolveConfigurationPath() string {
	if flag.NArg() > 0 {
		return flag.Arg(0)
	}
	return os.Getenv("HANGAR_CONFIGURATION_PATH")
}

func configureLogging(logCfg config.Log) {
	if logCfg.Level != "" {
		level, err := log.ParseLevel(logCfg.Level)
		if err != nil {
			log.Warnf("error parsing log level %q: %v, using info", logCfg.Level, err)
			level = log.InfoLevel
		}
		log.SetLevel(level)
	}
	switch logCfg.Formatter {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{})
	default:
		log.Warnf("unsupported logging formatter %q, using text", logCfg.Formatter)
	}
	if len(logCfg.Fields) > 0 {
		fields := make(log.Fields, len(logCfg.Fields))
		for k, v := range logCfg.Fields {
			fields[k] = v
		}
		dcontext.SetDefaultLogger(log.WithFields(fields))
	}
}

// loadAuthenticator builds a remote.Authenticator from a flat
// "username:password" credentials file (§6 "restrict_push"), one
// credential per line. Returns nil if restricted push is off or no
// credentials file is configured.
func loadAuthenticator(srvCfg config.Server) (remote.Authenticator, error) {
	if !srvCfg.RestrictPush || srvCfg.CredentialsFile == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(srvCfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	creds := parseCredentials(string(raw))
	return func(username, password string) bool {
		want, ok := creds[username]
		return ok && want == password
	}, nil
}
