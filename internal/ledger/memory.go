package ledger

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Aidin1998/omnidex/pkg/errors"
)

// Token is an in-memory fungible ledger with ERC-20 allowance semantics.
type Token struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

func NewToken() *Token {
	return &Token{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *Token) BalanceOf(owner common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balanceLocked(owner)
}

func (t *Token) balanceLocked(owner common.Address) *big.Int {
	if b, ok := t.balances[owner]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return new(big.Int).Set(a)
		}
	}
	return new(big.Int)
}

func (t *Token) Approve(owner, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[common.Address]*big.Int)
	}
	t.allowances[owner][spender] = new(big.Int).Set(amount)
}

func (t *Token) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if spender != from {
		allowance := new(big.Int)
		if m, ok := t.allowances[from]; ok && m[spender] != nil {
			allowance = m[spender]
		}
		if allowance.Cmp(amount) < 0 {
			return errors.NewWithKind(errors.KindTransferRejected).Explain("allowance %s below transfer amount %s", allowance, amount)
		}
		t.allowances[from][spender] = new(big.Int).Sub(allowance, amount)
	}

	balance := t.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return errors.NewWithKind(errors.KindTransferRejected).Explain("balance %s below transfer amount %s", balance, amount)
	}
	t.balances[from] = balance.Sub(balance, amount)
	t.balances[to] = new(big.Int).Add(t.balanceLocked(to), amount)
	return nil
}

func (t *Token) Mint(to common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] = new(big.Int).Add(t.balanceLocked(to), amount)
}

func (t *Token) Burn(from common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	balance := t.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return errors.NewWithKind(errors.KindTransferRejected).Explain("burn exceeds balance")
	}
	t.balances[from] = balance.Sub(balance, amount)
	return nil
}

var _ BridgeableFungible = (*Token)(nil)

// Collection is an in-memory NFT ledger covering both unique and
// semi-fungible kinds.
type Collection struct {
	kind TokenKind

	mu        sync.Mutex
	owners    map[string]common.Address          // unique: tokenID -> owner
	balances  map[string]map[common.Address]*big.Int // semi-fungible
	approvals map[common.Address]map[common.Address]bool
}

func NewCollection(kind TokenKind) *Collection {
	return &Collection{
		kind:      kind,
		owners:    make(map[string]common.Address),
		balances:  make(map[string]map[common.Address]*big.Int),
		approvals: make(map[common.Address]map[common.Address]bool),
	}
}

func (c *Collection) Kind() TokenKind { return c.kind }

func (c *Collection) BalanceOf(owner common.Address, tokenID *big.Int) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := tokenID.String()
	if c.kind == KindUnique {
		if c.owners[key] == owner {
			return big.NewInt(1)
		}
		return new(big.Int)
	}
	if m, ok := c.balances[key]; ok && m[owner] != nil {
		return new(big.Int).Set(m[owner])
	}
	return new(big.Int)
}

func (c *Collection) OwnerOf(tokenID *big.Int) (common.Address, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[tokenID.String()]
	return owner, ok
}

func (c *Collection) IsApprovedForAll(owner, operator common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.approvals[owner][operator]
}

func (c *Collection) SetApprovalForAll(owner, operator common.Address, approved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.approvals[owner] == nil {
		c.approvals[owner] = make(map[common.Address]bool)
	}
	c.approvals[owner][operator] = approved
}

func (c *Collection) SafeTransferFrom(operator, from, to common.Address, tokenID, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if operator != from && !c.approvals[from][operator] {
		return errors.NewWithKind(errors.KindTransferRejected).Explain("operator %s not approved by %s", operator.Hex(), from.Hex())
	}
	return c.moveLocked(from, to, tokenID, amount)
}

func (c *Collection) moveLocked(from, to common.Address, tokenID, amount *big.Int) error {
	key := tokenID.String()
	if c.kind == KindUnique {
		if c.owners[key] != from {
			return errors.NewWithKind(errors.KindTransferRejected).Explain("token %s not owned by %s", key, from.Hex())
		}
		c.owners[key] = to
		return nil
	}

	if c.balances[key] == nil {
		c.balances[key] = make(map[common.Address]*big.Int)
	}
	held := new(big.Int)
	if b := c.balances[key][from]; b != nil {
		held = b
	}
	if held.Cmp(amount) < 0 {
		return errors.NewWithKind(errors.KindTransferRejected).Explain("balance %s below transfer amount %s", held, amount)
	}
	c.balances[key][from] = new(big.Int).Sub(held, amount)
	prev := new(big.Int)
	if b := c.balances[key][to]; b != nil {
		prev = b
	}
	c.balances[key][to] = new(big.Int).Add(prev, amount)
	return nil
}

func (c *Collection) Mint(to common.Address, tokenID, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := tokenID.String()
	if c.kind == KindUnique {
		c.owners[key] = to
		return
	}
	if c.balances[key] == nil {
		c.balances[key] = make(map[common.Address]*big.Int)
	}
	prev := new(big.Int)
	if b := c.balances[key][to]; b != nil {
		prev = b
	}
	c.balances[key][to] = new(big.Int).Add(prev, amount)
}

func (c *Collection) Burn(operator, from common.Address, tokenID, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if operator != from && !c.approvals[from][operator] {
		return errors.NewWithKind(errors.KindTransferRejected).Explain("operator %s not approved by %s", operator.Hex(), from.Hex())
	}
	key := tokenID.String()
	if c.kind == KindUnique {
		if c.owners[key] != from {
			return errors.NewWithKind(errors.KindTransferRejected).Explain("token %s not owned by %s", key, from.Hex())
		}
		delete(c.owners, key)
		return nil
	}

	if c.balances[key] == nil {
		c.balances[key] = make(map[common.Address]*big.Int)
	}
	held := new(big.Int)
	if b := c.balances[key][from]; b != nil {
		held = b
	}
	if held.Cmp(amount) < 0 {
		return errors.NewWithKind(errors.KindTransferRejected).Explain("burn exceeds balance")
	}
	c.balances[key][from] = new(big.Int).Sub(held, amount)
	return nil
}

var _ BridgeableNFT = (*Collection)(nil)
