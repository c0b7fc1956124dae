package main

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caio-sobreiro/dicomscp/client"
	"github.com/caio-sobreiro/dicomscp/config"
	"github.com/caio-sobreiro/dicomscp/session"
)

type peerFlags struct {
	calledAE string
	useTLS   bool
	insecure bool
	timeout  time.Duration
}

func (p *peerFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("ae-title", config.Default().AETitle, "calling AE title")
	f.StringVar(&p.calledAE, "called-ae", "ANY-SCP", "called AE title")
	f.BoolVar(&p.useTLS, "tls", false, "connect with DICOM TLS")
	f.BoolVar(&p.insecure, "insecure", false, "skip TLS certificate verification")
	f.DurationVar(&p.timeout, "timeout", 30*time.Second, "connect timeout")
}

// connect loads the configuration and opens an association to address.
func (p *peerFlags) connect(cmd *cobra.Command, opts *rootOptions, address string, contexts []client.ContextRequest) (context.Context, *client.Association, *zap.Logger, error) {
	cfg, logger, err := opts.load(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	cc := client.Config{
		CallingAETitle: cfg.AETitle,
		CalledAETitle:  p.calledAE,
		MaxPDULength:   cfg.MaxPDULength,
		ConnectTimeout: p.timeout,
		Logger:         logger,
		Contexts:       contexts,
	}
	if p.useTLS {
		cc.Kind = session.KindTLS
		cc.TLSConfig = &tls.Config{InsecureSkipVerify: p.insecure, MinVersion: tls.VersionTLS12} //nolint:gosec
	}
	ctx := cmd.Context()
	assoc, err := client.Connect(ctx, address, cc)
	if err != nil {
		return nil, nil, nil, err
	}
	return ctx, assoc, logger, nil
}
