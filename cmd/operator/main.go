package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

func loadSettings() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("OPERATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8081")
	v.SetDefault("pending_calls", 1)
	v.SetDefault("success_rate", 0.9)
	v.SetDefault("base_price", 10000)
	v.SetDefault("min_delay", 50*time.Millisecond)
	v.SetDefault("max_delay", 300*time.Millisecond)
	v.SetDefault("digiflazz_username", "")
	v.SetDefault("digiflazz_api_key", "")
	v.SetDefault("tokovoucher_member_code", "")
	v.SetDefault("tokovoucher_secret", "")
	return v
}

func requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	log.Info().
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).
		Dur("duration", time.Since(start)).
		Msg("Request processed")
}

// latency delays every request by a pseudo-random duration in [lo, hi).
func latency(lo, hi time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hi > lo {
			time.Sleep(lo + time.Duration(time.Now().UnixNano()%int64(hi-lo)))
		}
		c.Next()
	}
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	v := loadSettings()
	upstream := NewUpstream(v.GetInt("pending_calls"), v.GetFloat64("success_rate"), v.GetInt64("base_price"))
	handler := NewHandler(upstream, Credentials{
		DigiflazzUsername:     v.GetString("digiflazz_username"),
		DigiflazzApiKey:       v.GetString("digiflazz_api_key"),
		TokoVoucherMemberCode: v.GetString("tokovoucher_member_code"),
		TokoVoucherSecret:     v.GetString("tokovoucher_secret"),
	})

	router := SetupRouter(handler, latency(v.GetDuration("min_delay"), v.GetDuration("max_delay")))

	log.Info().
		Str("port", v.GetString("port")).
		Int("pending_calls", v.GetInt("pending_calls")).
		Float64("success_rate", v.GetFloat64("success_rate")).
		Msg("Starting mock voucher upstream")

	srv := &http.Server{
		Addr:         ":" + v.GetString("port"),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
