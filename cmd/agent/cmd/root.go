// cmd/agent/cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/exp/slog"

	markerCmd "safemesh/cmd/agent/cmd/marker"
	sosCmd "safemesh/cmd/agent/cmd/sos"
	"safemesh/internal/app/agent"
	"safemesh/internal/config"
	"safemesh/internal/utils/logger"
)

var (
	cfgFile     string
	cfg         *config.Config
	log         *slog.Logger
	app         *agent.App
	debug       bool
	databaseURI string
)

var rootCmd = &cobra.Command{
	Use:   "safemesh",
	Short: "SafeMesh — агент офлайн-карты безопасности",
	Long: `SafeMesh — агент устройства для краудсорсинговой карты безопасности:
маркеры (укрытия, опасные зоны, вода, медпункты), голоса за их
актуальность и SOS запросы о помощи.

Все операции работают офлайн; при появлении связи агент синхронизирует
локальную базу с общим хранилищем и сливает дубликаты.`,
	PersistentPreRunE: setupApp,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	// Загружаем конфигурацию
	var err error
	cfg, err = loadConfig()
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	// Переопределяем настройки из флагов командной строки
	if databaseURI != "" {
		cfg.DatabaseURI = databaseURI
	}
	if debug {
		cfg.Env = config.EnvLocal
	}

	// Настраиваем логгер
	log = logger.New(cfg.Env)

	// Создаем приложение
	app, err = agent.New(cfg, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации агента: %w", err)
	}

	cmd.SetContext(context.WithValue(cmd.Context(), "app", app))
	return nil
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Ищем конфиг в стандартных местах
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}

		configDir := filepath.Join(home, ".safemesh")
		viper.AddConfigPath(configDir)
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Конфиг не найден, используем значения по умолчанию
	}

	// Загружаем конфигурацию через стандартный метод
	return config.MustLoad(), nil
}

func init() {
	cobra.OnInitialize()

	// Глобальные флаги
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "конфигурационный файл")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "включить отладочный режим")
	rootCmd.PersistentFlags().StringVar(&databaseURI, "database", "", "URI общего хранилища PostgreSQL")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(markerCmd.MarkerCmd)
	rootCmd.AddCommand(sosCmd.SOSCmd)
}
