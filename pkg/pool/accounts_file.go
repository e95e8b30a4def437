package pool

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/openkiro/kirogate/pkg/kiro"
)

// AccountConfig is one entry of the accounts file: a display name plus an
// inline credential set.
type AccountConfig struct {
	Name        string           `json:"name"`
	Credentials kiro.Credentials `json:"credentials"`
}

// LoadAccountsFile reads a JSON array of account configurations.
func LoadAccountsFile(path string) ([]AccountConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pool: read accounts file %s: %w", path, err)
	}

	var accounts []AccountConfig
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("pool: parse accounts file %s: %w", path, err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("pool: accounts file %s holds no accounts", path)
	}

	for i, acct := range accounts {
		if err := acct.Credentials.Validate(); err != nil {
			return nil, fmt.Errorf("pool: account %d (%s): %w", i, acct.Name, err)
		}
	}
	return accounts, nil
}
