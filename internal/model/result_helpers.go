// SPDX-License-Identifier: AGPL-3.0-only
package model

import (
	"encoding/json"

	"github.com/jolks/persona-agent/internal/logging"
)

// PersistAndLogTurn saves a turn record to the store (best-effort) and debug-logs it.
func PersistAndLogTurn(store TurnStore, turn *TurnRecord, logger *logging.Logger) {
	if store != nil {
		if err := store.SaveTurn(turn); err != nil {
			logger.Warnf("Failed to persist turn %s: %v", turn.ID, err)
		}
	}

	jsonData, err := json.Marshal(turn)
	if err != nil {
		logger.Warnf("Failed to marshal turn %s: %v", turn.ID, err)
	} else {
		logger.Debugf("Turn %s: %s", turn.ID, string(jsonData))
	}
}
