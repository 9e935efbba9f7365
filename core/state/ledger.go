package state

import (
	"fmt"
	"math/big"
)

func (m *Manager) loadBigInt(key []byte) (*big.Int, error) {
	value := new(big.Int)
	ok, err := m.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (m *Manager) writeBigInt(key []byte, value *big.Int) error {
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return fmt.Errorf("state: negative value for %s", key)
	}
	if value.Sign() == 0 {
		return m.KVDelete(key)
	}
	return m.KVPut(key, value)
}

// LedgerBalance returns the balance held by addr. Unknown accounts hold zero.
func (m *Manager) LedgerBalance(addr [20]byte) (*big.Int, error) {
	return m.loadBigInt(LedgerBalanceKey(addr))
}

// SetLedgerBalance overwrites the balance held by addr.
func (m *Manager) SetLedgerBalance(addr [20]byte, amount *big.Int) error {
	return m.writeBigInt(LedgerBalanceKey(addr), amount)
}

// LedgerAllowance returns the amount spender may move on behalf of owner.
func (m *Manager) LedgerAllowance(owner, spender [20]byte) (*big.Int, error) {
	return m.loadBigInt(LedgerAllowanceKey(owner, spender))
}

// SetLedgerAllowance overwrites the allowance owner granted to spender.
func (m *Manager) SetLedgerAllowance(owner, spender [20]byte, amount *big.Int) error {
	return m.writeBigInt(LedgerAllowanceKey(owner, spender), amount)
}
