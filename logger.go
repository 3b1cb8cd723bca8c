package mocaca

import (
	"strconv"

	"github.com/mocaca/mocaca/log"
)

// displayStartupMessage displays a startup message with server information
func displayStartupMessage(logger *log.Logger, addr string, workers int, multicore bool) {
	logger.Info().Msg("  _ __ ___   ___   ___ __ _  ___ __ _")
	logger.Info().Msg(" | '_ ` _ \\ / _ \\ / __/ _` |/ __/ _` |")
	logger.Info().Msg(" | | | | | | (_) | (_| (_| | (_| (_| |")
	logger.Info().Msg(" |_| |_| |_|\\___/ \\___\\__,_|\\___\\__,_|")
	logger.Info().Msg(" ")
	logger.Info().Str("addr", addr).Int("workers", workers).Str("multicore", strconv.FormatBool(multicore)).Msg("server is running")
	logger.Info().Msg("Press Ctrl+C to stop the server")
	logger.Info().Msg(" ")
}
