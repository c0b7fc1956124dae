package main

import (
	"context"
	"crypto/tls"
	"net"
	"os"
	"os/signal"
	"slices"
	"syscall"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caio-sobreiro/dicomscp/config"
	"github.com/caio-sobreiro/dicomscp/logging"
	"github.com/caio-sobreiro/dicomscp/metrics"
	"github.com/caio-sobreiro/dicomscp/profile"
	"github.com/caio-sobreiro/dicomscp/server"
	"github.com/caio-sobreiro/dicomscp/services"
	"github.com/caio-sobreiro/dicomscp/session"
	"github.com/caio-sobreiro/dicomscp/storage"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	def := config.Default()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the storage SCP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := opts.load(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(logging.ToContext(ctx, logger), cfg)
		},
	}

	f := cmd.Flags()
	f.String("ae-title", def.AETitle, "local AE title")
	f.String("host", def.Host, "listen address")
	f.Int("port", def.Port, "plain DICOM port")
	f.Int("tls-port", 0, "DICOM TLS port, 0 disables it")
	f.String("tls-cert", "", "TLS certificate file")
	f.String("tls-key", "", "TLS key file")
	f.Uint32("max-pdu-length", def.MaxPDULength, "largest PDU accepted")
	f.Duration("associate-timeout", def.AssociateTimeout, "wait for A-ASSOCIATE-RQ")
	f.Duration("dimse-timeout", def.DimseTimeout, "idle time allowed between PDUs")
	f.Duration("socket-timeout", def.SocketTimeout, "read and write timeout")
	f.Int("throttle-bytes-per-second", 0, "transfer rate limit per association")
	f.Int("accept-rate", 0, "new connections per second, 0 is unlimited")
	f.Bool("accepted-contexts-only", false, "leave rejected contexts out of the A-ASSOCIATE-AC")
	f.Bool("reject-empty-association", false, "reject associations without an accepted context")
	f.StringSlice("allowed-calling-aes", nil, "calling AE titles allowed to connect")
	f.StringSlice("allowed-called-aes", nil, "called AE titles answered; defaults to --ae-title, * answers any")
	f.String("profiles-dir", "", "directory of peer capability profiles")
	f.Bool("match-implementation", false, "match profiles on the peer implementation too")
	f.String("storage-backend", def.Storage.Backend, "file or s3")
	f.String("storage-dir", def.Storage.Dir, "root of the file backend")
	f.String("storage-catalog", "", "SQLite catalog path, enables C-FIND")
	f.String("storage-age-recipients", "", "age recipients, inline or a file, to encrypt instances")
	f.Bool("storage-file-buffer", false, "buffer received data sets on disk")
	f.String("storage-temp-dir", "", "directory for buffered data sets")
	f.String("storage-s3-bucket", "", "S3 bucket")
	f.String("storage-s3-prefix", "", "S3 key prefix")
	f.String("storage-s3-region", "", "S3 region")
	f.String("storage-s3-endpoint", "", "S3 compatible endpoint")
	f.Bool("storage-s3-path-style", false, "use path style S3 addressing")
	f.Duration("metrics-interval", def.MetricsInterval, "metrics export interval, 0 disables export")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.FromContext(ctx)

	handler := metrics.NewNoOpHandler(ctx)
	if cfg.MetricsInterval > 0 {
		h, shutdown, err := metrics.NewStdoutHandler(ctx, os.Stderr, cfg.MetricsInterval, "dicomscp")
		if err != nil {
			return oops.In("serve").Wrapf(err, "failed to start metrics exporter")
		}
		defer func() { _ = shutdown(context.Background()) }()
		handler = h
	}

	sink, err := buildSink(ctx, cfg)
	if err != nil {
		return err
	}

	receiverOpts := []storage.ReceiverOption{storage.WithReceiverLogger(logger)}
	storeCfg := services.StoreConfig{
		AllowedCallingAEs:      toSet(cfg.AllowedCallingAEs),
		AllowedCalledAEs:       calledAEs(cfg),
		RejectEmptyAssociation: cfg.RejectEmpty,
		UseFileBuffer:          cfg.Storage.FileBuffer,
		TempDir:                cfg.Storage.TempDir,
	}
	if cfg.Storage.Catalog != "" {
		catalog, err := storage.OpenCatalog(ctx, cfg.Storage.Catalog)
		if err != nil {
			return err
		}
		defer catalog.Close()
		receiverOpts = append(receiverOpts, storage.WithCatalog(catalog))
		storeCfg.Finder = catalog
	}
	storeCfg.OnCStore = storage.NewReceiver(sink, receiverOpts...).Store

	if cfg.ProfilesDir != "" {
		var setOpts []profile.SetOption
		if cfg.MatchImplementation {
			setOpts = append(setOpts, profile.WithImplementationMatching())
		}
		profiles, err := profile.NewSet(setOpts...)
		if err != nil {
			return err
		}
		if err := profiles.LoadDir(cfg.ProfilesDir); err != nil {
			return err
		}
		logger.Info("profiles_loaded", zap.Int("count", len(profiles.Profiles())))
		storeCfg.Profiles = profiles
	}

	svc, err := services.NewStoreService(storeCfg)
	if err != nil {
		return err
	}

	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMetrics(handler),
		server.WithHost(cfg.Host),
		server.WithAcceptRate(cfg.AcceptRate),
		server.WithSessionConfig(svc.SessionConfig(cfg.SessionConfig())),
	}
	if cfg.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return oops.In("serve").With("cert", cfg.TLSCert).Wrapf(err, "failed to load TLS key pair")
		}
		serverOpts = append(serverOpts, server.WithTLSConfig(&tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}))
	}

	srv := server.New(func(net.Conn, session.Kind) session.Handler { return svc }, serverOpts...)
	if err := srv.AddBinding(cfg.Port, session.KindPlain); err != nil {
		return err
	}
	if cfg.TLSPort != 0 {
		if err := srv.AddBinding(cfg.TLSPort, session.KindTLS); err != nil {
			return err
		}
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	logger.Info("dicomscp_started", zap.String("ae_title", cfg.AETitle), zap.String("version", version))

	<-ctx.Done()
	logger.Info("dicomscp_stopping", zap.Int("clients", srv.ClientCount()))
	return srv.Stop()
}

func buildSink(ctx context.Context, cfg *config.Config) (storage.Sink, error) {
	var sink storage.Sink
	switch cfg.Storage.Backend {
	case "s3":
		s3Sink, err := storage.NewS3Sink(ctx, storage.S3Config{
			Bucket:       cfg.Storage.S3.Bucket,
			Prefix:       cfg.Storage.S3.Prefix,
			Region:       cfg.Storage.S3.Region,
			Endpoint:     cfg.Storage.S3.Endpoint,
			UsePathStyle: cfg.Storage.S3.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		sink = s3Sink
	default:
		fileSink, err := storage.NewFileSink(cfg.Storage.Dir)
		if err != nil {
			return nil, err
		}
		sink = fileSink
	}

	recipients, err := config.ReadFileOrValue(cfg.Storage.AgeRecipients)
	if err != nil {
		return nil, err
	}
	if recipients == "" {
		return sink, nil
	}
	return storage.NewEncryptedSink(sink, recipients)
}

// calledAEs is the set of called AE titles the SCP answers. An empty list
// answers the local AE title only; "*" answers any.
func calledAEs(cfg *config.Config) mapset.Set[string] {
	switch {
	case len(cfg.AllowedCalledAEs) == 0:
		return mapset.NewSet(cfg.AETitle)
	case slices.Contains(cfg.AllowedCalledAEs, "*"):
		return nil
	}
	return toSet(cfg.AllowedCalledAEs)
}

func toSet(values []string) mapset.Set[string] {
	if len(values) == 0 {
		return nil
	}
	return mapset.NewSet(values...)
}
