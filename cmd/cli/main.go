package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeovahfialho/agro-cotacoes/internal/api"
	"github.com/jeovahfialho/agro-cotacoes/internal/app"
	"github.com/jeovahfialho/agro-cotacoes/internal/config"
	"github.com/jeovahfialho/agro-cotacoes/internal/domain"
	"github.com/jeovahfialho/agro-cotacoes/internal/storage/postgres"
	pkglogger "github.com/jeovahfialho/agro-cotacoes/pkg/logger"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "agro-cotacoes",
		Short: "Agro Cotações CLI",
		Long: `CLI para coleta e consulta de cotações agropecuárias.
Permite coletar dos provedores configurados, consultar preços e administrar a base.`,
		SilenceUsage: true,
	}

	// Comando migrate
	var migrateCmd = &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Aplica ou reverte migrações do PostgreSQL",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			steps, _ := cmd.Flags().GetInt("steps")
			return runMigrate(direction, steps)
		},
	}
	migrateCmd.Flags().Int("steps", 1, "Número de migrações a reverter (down)")

	// Comando providers
	var providersCmd = &cobra.Command{
		Use:   "providers",
		Short: "Lista provedores configurados e sua saúde",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(listProviders)
		},
	}

	// Comando poll
	var pollCmd = &cobra.Command{
		Use:   "poll [commodity...]",
		Short: "Executa um ciclo de coleta agora",
		Long: `Executa um ciclo de coleta para as commodities informadas,
ou para todos os provedores configurados quando nenhuma é informada.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			commodities, err := parseCommodities(args)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				return poll(ctx, a, commodities)
			})
		},
	}

	// Comando run
	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Executa o agendador em primeiro plano até SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(runScheduler)
		},
	}

	// Comando latest
	var latestCmd = &cobra.Command{
		Use:   "latest",
		Short: "Mostra as cotações mais recentes",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(func(ctx context.Context, a *app.App) error {
				return latest(ctx, a, limit)
			})
		},
	}
	latestCmd.Flags().IntP("limit", "n", 0, "Número máximo de cotações (0 = padrão)")

	// Comando summary
	var summaryCmd = &cobra.Command{
		Use:   "summary",
		Short: "Mostra médias por commodity na data mais recente",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(summary)
		},
	}

	// Comando state
	var stateCmd = &cobra.Command{
		Use:   "state <UF>",
		Short: "Mostra todas as cotações de um estado",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app.App) error {
				return byState(ctx, a, args[0])
			})
		},
	}

	// Comando reset
	var resetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Remove cotações armazenadas",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("commodity")
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				return fmt.Errorf("operação destrutiva: confirme com --yes")
			}
			var commodity domain.Commodity
			if raw != "" {
				c, err := domain.ParseCommodity(raw)
				if err != nil {
					return err
				}
				commodity = c
			}
			return withApp(func(ctx context.Context, a *app.App) error {
				return reset(ctx, a, commodity)
			})
		},
	}
	resetCmd.Flags().StringP("commodity", "c", "", "Remove apenas esta commodity")
	resetCmd.Flags().Bool("yes", false, "Confirma a remoção")

	// Comando health
	var healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Verifica saúde do sistema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(checkHealth)
		},
	}

	rootCmd.AddCommand(migrateCmd, providersCmd, pollCmd, runCmd, latestCmd, summaryCmd, stateCmd, resetCmd, healthCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println("❌", err)
		os.Exit(1)
	}
}

// withApp carrega configuração, logger e dependências e executa fn.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.LoadE()
	if err != nil {
		return fmt.Errorf("configuração inválida: %w", err)
	}
	if err := pkglogger.Init(cfg.LogLevel, cfg.Development()); err != nil {
		return fmt.Errorf("erro ao inicializar logger: %w", err)
	}
	defer pkglogger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func parseCommodities(args []string) ([]domain.Commodity, error) {
	out := make([]domain.Commodity, 0, len(args))
	for _, arg := range args {
		c, err := domain.ParseCommodity(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func runMigrate(direction string, steps int) error {
	cfg, err := config.LoadE()
	if err != nil {
		return fmt.Errorf("configuração inválida: %w", err)
	}

	if cfg.StoreDriver != "postgres" {
		fmt.Println("ℹ️  SQLite aplica o schema automaticamente ao abrir; nada a fazer")
		return nil
	}

	switch direction {
	case "down":
		fmt.Printf("⏪ Revertendo %d migração(ões)...\n", steps)
		err = postgres.MigrateDown(cfg.DatabaseURL, steps)
	default:
		fmt.Println("⏩ Aplicando migrações...")
		err = postgres.Migrate(cfg.DatabaseURL)
	}
	if err != nil {
		return err
	}

	version, dirty, err := postgres.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Versão do schema: %d (dirty=%t)\n", version, dirty)
	return nil
}

func listProviders(ctx context.Context, a *app.App) error {
	providers := a.Ingestion.Providers()
	if len(providers) == 0 {
		fmt.Println("❌ Nenhum provedor configurado")
		return nil
	}

	fmt.Printf("📡 %d provedores configurados:\n\n", len(providers))
	for _, p := range providers {
		status := "✅"
		if p.Health.Degraded {
			status = "⚠️ "
		}
		fmt.Printf("%s %-7s %-10s %-4s %s\n", status, p.Commodity, p.Details.Strategy, p.Details.State, p.Details.URL)
		fmt.Printf("   agenda: %s\n", p.Details.Schedule)
	}
	return nil
}

func poll(ctx context.Context, a *app.App, commodities []domain.Commodity) error {
	fmt.Println("📥 Coletando cotações...")

	results, err := a.Ingestion.Poll(ctx, commodities...)
	if err != nil {
		return err
	}

	ok := 0
	for _, r := range results {
		if r.Status == domain.StatusOK && r.Price != nil {
			ok++
			fmt.Printf("✅ %-7s %s/%s R$ %s (%s) em %s\n",
				r.Commodity, r.Price.State, r.Price.Date.Format("02/01/2006"),
				api.FormatPrice(r.Price.Price), api.FormatVariation(r.Price.Variation),
				r.Duration.Round(time.Millisecond))
			continue
		}
		fmt.Printf("❌ %-7s [%s] %s\n", r.Commodity, r.Status, r.Error)
	}

	fmt.Printf("\n📊 %d de %d provedores gravados\n", ok, len(results))
	return nil
}

func runScheduler(ctx context.Context, a *app.App) error {
	if err := a.Scheduler.Start(); err != nil {
		return err
	}
	fmt.Printf("⏰ Agendador iniciado com %d provedores (Ctrl+C para sair)\n", a.Registry.Len())

	<-ctx.Done()

	fmt.Println("\n🛑 Encerrando agendador...")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Scheduler.Stop(stopCtx); err != nil {
		return fmt.Errorf("agendador não parou a tempo: %w", err)
	}
	fmt.Println("✅ Agendador encerrado")
	return nil
}

func latest(ctx context.Context, a *app.App, limit int) error {
	prices, err := a.Prices.Latest(ctx, limit)
	if err != nil {
		return err
	}
	printPrices(prices)
	return nil
}

func summary(ctx context.Context, a *app.App) error {
	summaries, err := a.Aggregation.Summary(ctx)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Println("❌ Nenhuma cotação armazenada")
		return nil
	}

	fmt.Print("📊 Médias na data mais recente de cada commodity:\n\n")
	for _, s := range summaries {
		fmt.Printf("%-7s R$ %10s  %8s  %d estado(s)  %s\n",
			s.Commodity, api.FormatPrice(s.AvgPrice), api.FormatVariation(s.AvgVariation),
			s.Count, s.LastUpdate.Format("02/01/2006"))
	}
	return nil
}

func byState(ctx context.Context, a *app.App, state string) error {
	prices, err := a.Prices.ByState(ctx, state)
	if err != nil {
		return err
	}
	fmt.Printf("📍 Cotações em %s:\n\n", domain.NormalizeState(state))
	printPrices(prices)
	return nil
}

func reset(ctx context.Context, a *app.App, commodity domain.Commodity) error {
	deleted, err := a.Prices.Reset(ctx, commodity)
	if err != nil {
		return err
	}
	if commodity == "" {
		fmt.Printf("🗑️  %d cotações removidas\n", deleted)
	} else {
		fmt.Printf("🗑️  %d cotações de %s removidas\n", deleted, commodity)
	}
	return nil
}

func checkHealth(ctx context.Context, a *app.App) error {
	fmt.Print("🏥 Verificando saúde do sistema...\n\n")

	fmt.Printf("Armazenamento (%s): ", a.Config.StoreDriver)
	if err := a.Prices.HealthCheck(ctx); err != nil {
		fmt.Printf("❌ Erro: %v\n", err)
	} else {
		fmt.Println("✅ OK")
	}

	fmt.Print("Redis: ")
	if a.Cache == nil {
		fmt.Println("❌ Não disponível")
	} else if err := a.Cache.HealthCheck(ctx); err != nil {
		fmt.Printf("❌ Erro: %v\n", err)
	} else {
		fmt.Println("✅ OK")
	}

	fmt.Printf("Provedores: %d configurados\n", a.Registry.Len())

	fmt.Println("\n✅ Verificação concluída!")
	return nil
}

func printPrices(prices []domain.Price) {
	if len(prices) == 0 {
		fmt.Println("❌ Nenhuma cotação encontrada")
		return
	}
	for _, p := range prices {
		place := p.State
		if p.City != "" {
			place = p.City + "/" + p.State
		}
		fmt.Printf("%s  %-7s %-20s R$ %10s  %8s\n",
			p.Date.Format("02/01/2006"), p.Commodity, place,
			api.FormatPrice(p.Price), api.FormatVariation(p.Variation))
	}
	fmt.Printf("\n📊 Total: %d cotações\n", len(prices))
}
