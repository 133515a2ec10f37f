package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/staybook/internal/gateway"
	"github.com/MarkoPoloResearchLab/staybook/internal/httpserver"
	"github.com/MarkoPoloResearchLab/staybook/internal/notify"
	"github.com/MarkoPoloResearchLab/staybook/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/staybook/pkg/booking"
	"github.com/MarkoPoloResearchLab/staybook/pkg/payment"
)

const (
	flagDatabaseURL           = "database-url"
	flagListenAddr            = "listen-addr"
	flagAllowedOrigins        = "allowed-origins"
	flagPaymentWindow         = "payment-window"
	flagCompletionSchedule    = "completion-schedule"
	flagAMQPURL               = "amqp-url"
	flagAMQPExchange          = "amqp-exchange"
	configKeyDatabaseURL      = "database_url"
	configKeyListenAddr       = "listen_addr"
	configKeyAllowedOrigins   = "allowed_origins"
	configKeyPaymentWindow    = "payment_window"
	configKeyCompletionSched  = "completion_schedule"
	configKeyAMQPURL          = "amqp_url"
	configKeyAMQPExchange     = "amqp_exchange"
	defaultDatabaseURL        = "sqlite:///tmp/staybook.db"
	defaultListenAddr         = ":8080"
	defaultPaymentWindow      = 30 * time.Minute
	defaultCompletionSchedule = "0 3 * * *"
	defaultAMQPExchange       = "staybook.events"
)

type runtimeConfig struct {
	DatabaseURL        string
	ListenAddr         string
	AllowedOrigins     []string
	PaymentWindow      time.Duration
	CompletionSchedule string
	AMQPURL            string
	AMQPExchange       string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bookingd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "bookingd",
		Short:         "Booking and payment reconciliation server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or SQLite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-delimited CORS origins")
	cmd.Flags().Duration(flagPaymentWindow, defaultPaymentWindow, "maximum age of a payment a webhook may still settle")
	cmd.Flags().String(flagCompletionSchedule, defaultCompletionSchedule, "cron schedule for the checkout completion sweep")
	cmd.Flags().String(flagAMQPURL, "", "AMQP broker URL for booking events (empty logs events instead)")
	cmd.Flags().String(flagAMQPExchange, defaultAMQPExchange, "AMQP topic exchange for booking events")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:     "DATABASE_URL",
		configKeyListenAddr:      "LISTEN_ADDR",
		configKeyAllowedOrigins:  "ALLOWED_ORIGINS",
		configKeyPaymentWindow:   "PAYMENT_WINDOW",
		configKeyCompletionSched: "COMPLETION_SCHEDULE",
		configKeyAMQPURL:         "AMQP_URL",
		configKeyAMQPExchange:    "AMQP_EXCHANGE",
	}
	for configKey, envName := range bindings {
		if err := viper.BindEnv(configKey, envName); err != nil {
			return err
		}
	}
	flagBindings := map[string]string{
		configKeyDatabaseURL:     flagDatabaseURL,
		configKeyListenAddr:      flagListenAddr,
		configKeyAllowedOrigins:  flagAllowedOrigins,
		configKeyPaymentWindow:   flagPaymentWindow,
		configKeyCompletionSched: flagCompletionSchedule,
		configKeyAMQPURL:         flagAMQPURL,
		configKeyAMQPExchange:    flagAMQPExchange,
	}
	for configKey, flagName := range flagBindings {
		if err := viper.BindPFlag(configKey, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = httpserver.ParseAllowedOrigins(viper.GetString(configKeyAllowedOrigins))
	cfg.PaymentWindow = viper.GetDuration(configKeyPaymentWindow)
	if cfg.PaymentWindow <= 0 {
		cfg.PaymentWindow = defaultPaymentWindow
	}
	cfg.CompletionSchedule = viper.GetString(configKeyCompletionSched)
	if cfg.CompletionSchedule == "" {
		cfg.CompletionSchedule = defaultCompletionSchedule
	}
	cfg.AMQPURL = viper.GetString(configKeyAMQPURL)
	cfg.AMQPExchange = viper.GetString(configKeyAMQPExchange)
	if cfg.AMQPExchange == "" {
		cfg.AMQPExchange = defaultAMQPExchange
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	store := gormstore.New(gormDB)
	if driver == "sqlite" {
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
	}

	clock := func() int64 { return time.Now().UTC().Unix() }
	bookingService, err := booking.NewService(
		store.Bookings(),
		clock,
		booking.WithOperationLogger(bookingOperationLogger{logger: logger}),
	)
	if err != nil {
		return fmt.Errorf("booking service init: %w", err)
	}

	adapters, err := buildGatewayAdapters()
	if err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}
	if len(adapters) == 0 {
		logger.Warn("no payment gateways configured; payment initiation will be rejected")
	}
	registry, err := payment.NewRegistry(adapters...)
	if err != nil {
		return fmt.Errorf("gateway registry init: %w", err)
	}

	var notifier payment.Notifier = notify.NewLogNotifier(logger)
	if cfg.AMQPURL != "" {
		publisher, publishErr := notify.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if publishErr != nil {
			return fmt.Errorf("amqp init: %w", publishErr)
		}
		defer func() { _ = publisher.Close() }()
		notifier = notify.NewAMQPNotifier(publisher, clock)
	}

	orchestrator, err := payment.NewOrchestrator(
		store.Payments(),
		registry,
		clock,
		payment.WithOrchestratorLogger(paymentOperationLogger{logger: logger}),
	)
	if err != nil {
		return fmt.Errorf("payment orchestrator init: %w", err)
	}
	reconciler, err := payment.NewReconciler(
		store.Payments(),
		registry,
		clock,
		payment.WithPaymentWindow(cfg.PaymentWindow),
		payment.WithNotifier(notifier),
		payment.WithReconcilerLogger(paymentOperationLogger{logger: logger}),
	)
	if err != nil {
		return fmt.Errorf("payment reconciler init: %w", err)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CompletionSchedule, func() {
		completed, sweepErr := bookingService.CompleteElapsed(ctx)
		if sweepErr != nil {
			logger.Error("completion sweep failed", zap.Error(sweepErr))
			return
		}
		logger.Info("completion sweep finished", zap.Int("completed", completed))
	}); err != nil {
		return fmt.Errorf("completion schedule %q: %w", cfg.CompletionSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	server, err := httpserver.NewServer(httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger, bookingService, orchestrator, reconciler)
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}
	return server.Run(ctx)
}

// buildGatewayAdapters constructs an adapter for every provider whose
// credentials are present in the environment. A partially configured
// provider is a startup error, not a silently skipped one.
func buildGatewayAdapters() ([]payment.GatewayAdapter, error) {
	adapters := []payment.GatewayAdapter{}

	if anySet("FASTPAY_MERCHANT_ID", "FASTPAY_MERCHANT_KEY", "FASTPAY_PASSPHRASE") {
		fastpay, err := gateway.NewFastpay(gateway.FastpayConfig{
			MerchantID:  viper.GetString("fastpay_merchant_id"),
			MerchantKey: viper.GetString("fastpay_merchant_key"),
			Passphrase:  viper.GetString("fastpay_passphrase"),
			ProcessURL:  viper.GetString("fastpay_process_url"),
			ReturnURL:   viper.GetString("fastpay_return_url"),
			CancelURL:   viper.GetString("fastpay_cancel_url"),
			NotifyURL:   viper.GetString("fastpay_notify_url"),
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, fastpay)
	}
	if anySet("TRUSTPAY_MERCHANT_CODE", "TRUSTPAY_PRIVATE_KEY") {
		trustpay, err := gateway.NewTrustpay(gateway.TrustpayConfig{
			MerchantCode: viper.GetString("trustpay_merchant_code"),
			PrivateKey:   viper.GetString("trustpay_private_key"),
			ProcessURL:   viper.GetString("trustpay_process_url"),
			ReturnURL:    viper.GetString("trustpay_return_url"),
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, trustpay)
	}
	if anySet("QRPAY_BASE_URL", "QRPAY_API_TOKEN", "QRPAY_WEBHOOK_SECRET") {
		qrpay, err := gateway.NewQrpay(gateway.QrpayConfig{
			BaseURL:       viper.GetString("qrpay_base_url"),
			APIToken:      viper.GetString("qrpay_api_token"),
			WebhookSecret: viper.GetString("qrpay_webhook_secret"),
			CallbackURL:   viper.GetString("qrpay_callback_url"),
		}, nil)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, qrpay)
	}
	if anySet("INSTAPAY_BASE_URL", "INSTAPAY_API_TOKEN", "INSTAPAY_WEBHOOK_SECRET") {
		instapay, err := gateway.NewInstapay(gateway.InstapayConfig{
			BaseURL:       viper.GetString("instapay_base_url"),
			APIToken:      viper.GetString("instapay_api_token"),
			WebhookSecret: viper.GetString("instapay_webhook_secret"),
			CallbackURL:   viper.GetString("instapay_callback_url"),
		}, nil)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, instapay)
	}
	return adapters, nil
}

func anySet(envNames ...string) bool {
	for _, envName := range envNames {
		if os.Getenv(envName) != "" {
			return true
		}
	}
	return false
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "staybook.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

type bookingOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger bookingOperationLogger) LogOperation(_ context.Context, entry booking.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.BookingID.String() != "" {
		fields = append(fields, zap.String("booking_id", entry.BookingID.String()))
	}
	if entry.PropertyID.String() != "" {
		fields = append(fields, zap.String("property_id", entry.PropertyID.String()))
	}
	if !entry.CheckIn.IsZero() {
		fields = append(fields, zap.String("check_in", entry.CheckIn.String()), zap.String("check_out", entry.CheckOut.String()))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("booking operation", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("booking operation", fields...)
}

type paymentOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger paymentOperationLogger) LogOperation(_ context.Context, entry payment.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("status", entry.Status),
	}
	if entry.Provider != "" {
		fields = append(fields, zap.String("provider", entry.Provider.String()))
	}
	if entry.Reference.String() != "" {
		fields = append(fields, zap.String("reference", entry.Reference.String()))
	}
	if entry.BookingID.String() != "" {
		fields = append(fields, zap.String("booking_id", entry.BookingID.String()))
	}
	if entry.Disposition != "" {
		fields = append(fields, zap.String("disposition", string(entry.Disposition)))
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("payment operation", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("payment operation", fields...)
}
