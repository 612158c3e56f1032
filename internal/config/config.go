package config

import "time"

type Config struct {
	BaseURL  string
	HttpPort int
	Db       struct {
		Dsn         string
		Automigrate bool
	}
	Jwt struct {
		SecretKey string
		// Issuer is the identity service the engine trusts; tokens minted
		// by anyone else are rejected.
		Issuer string
	}
	Notifications struct {
		Email string
	}
	Smtp struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
	}
	Redis struct {
		Addr string
		DB   int
	}
	KafkaServers string
	Payment      struct {
		// DefaultWalletCap applies to personal wallets, in cents.
		// Association wallets are created without a cap.
		DefaultWalletCap int64
		// SessionTTL bounds the lifetime of a payment session from QR
		// issuance to settlement.
		SessionTTL time.Duration
		// MaxSessionAmount is the largest single payment a session may carry,
		// in cents.
		MaxSessionAmount int64
		// RefundWindow is how long after settlement a transaction can still
		// be reversed.
		RefundWindow time.Duration
		// ActivationTokenTTL bounds the validity of a device activation link.
		ActivationTokenTTL time.Duration
		// ReconcileInterval is the pause between reconciliation sweeps.
		ReconcileInterval time.Duration
		// TopUpWebhookSecret authenticates top-up provider notifications.
		TopUpWebhookSecret string
	}
	Seed bool
}
