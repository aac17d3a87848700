// Package bootstrap assembles the components shared by the gateway, the
// inbound worker and channelctl from a loaded Config.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	msgapp "github.com/whatsgate/golang_services/internal/messaging_service/app"
	"github.com/whatsgate/golang_services/internal/messaging_service/provider"
	msgpg "github.com/whatsgate/golang_services/internal/messaging_service/repository/postgres"
	payapp "github.com/whatsgate/golang_services/internal/payment_service/app"
	payprovider "github.com/whatsgate/golang_services/internal/payment_service/provider"
	"github.com/whatsgate/golang_services/internal/platform/alerting"
	"github.com/whatsgate/golang_services/internal/platform/cache"
	"github.com/whatsgate/golang_services/internal/platform/config"
	"github.com/whatsgate/golang_services/internal/platform/effects"
	"github.com/whatsgate/golang_services/internal/platform/signature"
	dirapp "github.com/whatsgate/golang_services/internal/tenant_directory/app"
	dirpg "github.com/whatsgate/golang_services/internal/tenant_directory/repository/postgres"
	ledgerapp "github.com/whatsgate/golang_services/internal/webhook_ledger/app"
	ledgerpg "github.com/whatsgate/golang_services/internal/webhook_ledger/repository/postgres"
)

// SignatureRegistry builds the webhook verifier from the per-provider secrets
// and the WEBHOOK_INSTANCE_SECRETS overrides.
func SignatureRegistry(cfg *config.Config) (*signature.Registry, error) {
	instanceSecrets, err := config.ParseKeyValues(cfg.WebhookInstanceSecrets)
	if err != nil {
		return nil, fmt.Errorf("parsing webhook instance secrets: %w", err)
	}
	providerSecrets := map[string]string{
		signature.ProviderMeta:        cfg.MetaAppSecret,
		signature.ProviderGreenAPI:    cfg.GreenAPIWebhookSecret,
		signature.ProviderLegacy:      cfg.LegacyWebhookSecret,
		signature.ProviderWave:        cfg.WaveWebhookSecret,
		signature.ProviderOrangeMoney: cfg.OrangeMoneyWebhookSecret,
	}
	return signature.NewRegistry(providerSecrets, instanceSecrets), nil
}

// ProviderRegistry builds the three messaging adapters over one shared client.
func ProviderRegistry(cfg *config.Config, logger *slog.Logger) (*provider.Registry, error) {
	instanceTokens, err := config.ParseKeyValues(cfg.GreenAPIInstanceTokens)
	if err != nil {
		return nil, fmt.Errorf("parsing greenapi instance tokens: %w", err)
	}
	client := &http.Client{Timeout: cfg.OutboundTimeout}
	adapters := []provider.Adapter{
		provider.NewMetaAdapter(logger, cfg.MetaAPIBaseURL, cfg.MetaAccessToken, client),
		provider.NewGreenAPIAdapter(logger, cfg.GreenAPIBaseURL, cfg.GreenAPIToken, instanceTokens, client),
	}
	if cfg.LegacyAPIBaseURL != "" {
		adapters = append(adapters, provider.NewLegacyAdapter(logger, cfg.LegacyAPIBaseURL, cfg.LegacyAPIKey, client))
	} else {
		logger.Info("Legacy provider not configured, adapter disabled")
	}
	return provider.NewRegistry(adapters...), nil
}

// DirectoryStore returns Redis fronted by an in-process fallback. When Redis
// is unreachable at startup the directory runs on the local store alone.
// Expired local entries are swept until ctx is done.
func DirectoryStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Store, func()) {
	local := cache.NewLocalStore()
	go local.RunSweeper(ctx, localSweepInterval(cfg))
	redisStore, err := cache.NewRedisStore(ctx, cfg.RedisURL, logger)
	if err != nil {
		logger.Warn("Redis unavailable, tenant directory uses the local cache only", "error", err)
		return local, func() {}
	}
	closeFn := func() {
		if err := redisStore.Close(); err != nil {
			logger.Warn("Closing redis failed", "error", err)
		}
	}
	return cache.NewFallbackStore(redisStore, local, cfg.DirectoryLocalCacheTTL, logger), closeFn
}

func localSweepInterval(cfg *config.Config) time.Duration {
	if cfg.DirectoryLocalCacheTTL > 0 {
		return cfg.DirectoryLocalCacheTTL
	}
	return time.Minute
}

func Directory(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) (*dirapp.Directory, func()) {
	store, closeFn := DirectoryStore(ctx, cfg, logger)
	repo := dirpg.NewPgChannelRepository(pool, logger)
	return dirapp.NewDirectory(repo, store, cfg.DirectoryCacheTTL, logger), closeFn
}

func Ledger(cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger) *ledgerapp.Ledger {
	return ledgerapp.NewLedger(ledgerpg.NewPgLedgerRepository(pool, logger), ledgerapp.Config{
		ProcessingTimeout: cfg.LedgerProcessingTimeout,
		RetryCooldown:     cfg.LedgerRetryCooldown,
	}, logger)
}

func Alerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	alerter, err := alerting.New(cfg.TelegramBotToken, cfg.TelegramAlertChatID, logger)
	if err != nil {
		logger.Warn("Telegram alerter unavailable, alerts are logged only", "error", err)
		return alerting.Nop{Logger: logger}
	}
	return alerter
}

func OutboundSender(cfg *config.Config, registry *provider.Registry, pool *pgxpool.Pool, logger *slog.Logger) *msgapp.OutboundSender {
	deliveries := msgpg.NewPgDeliveryRepository(pool, logger)
	return msgapp.NewOutboundSender(registry, deliveries, cfg.FallbackEnabled, cfg.OutboundTimeout, logger)
}

// Orchestrator wires the inbound pipeline with the default intent rules and
// replies.
func Orchestrator(pool *pgxpool.Pool, registry *provider.Registry, directory *dirapp.Directory, ledger *ledgerapp.Ledger,
	sender *msgapp.OutboundSender, escalator msgapp.TicketEscalator, runner effects.Enqueuer, logger *slog.Logger) *msgapp.Orchestrator {
	return msgapp.NewOrchestrator(msgapp.OrchestratorDeps{
		Registry:      registry,
		Directory:     directory,
		Ledger:        ledger,
		Conversations: msgpg.NewPgConversationRepository(pool, logger),
		Classifier:    msgapp.NewIntentClassifier(msgapp.DefaultRules()...),
		Responder:     msgapp.NewResponder(msgapp.DefaultReplies()),
		Sender:        sender,
		Escalator:     escalator,
		Effects:       runner,
		Logger:        logger,
	})
}

// PaymentParsers covers the mobile-money providers. Orange Money callbacks
// without a currency are West African CFA francs.
func PaymentParsers() *payprovider.Registry {
	return payprovider.NewRegistry(payprovider.NewWaveParser(), payprovider.NewOrangeMoneyParser("XOF"))
}

// ReceiptBridge lets the payment processor notify customers through the
// messaging side without either package importing the other.
type ReceiptBridge struct {
	Notifier *msgapp.PaymentReceiptNotifier
}

func (b ReceiptBridge) NotifyPaymentReceived(ctx context.Context, r payapp.Receipt) error {
	return b.Notifier.NotifyPaymentReceived(ctx, msgapp.PaymentReceipt{
		VendorID:      r.VendorID,
		OrderID:       r.OrderID,
		CustomerPhone: r.CustomerPhone,
		Amount:        r.Amount,
		Reference:     r.Reference,
	})
}
