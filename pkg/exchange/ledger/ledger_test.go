package ledger

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	tokenX = common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenY = common.HexToAddress("0x1000000000000000000000000000000000000002")
	alice  = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob    = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func TestBalanceOfUnseenCellIsZero(t *testing.T) {
	l := New()
	if !l.BalanceOf(tokenX, alice).IsZero() {
		t.Error("expected zero balance for unseen cell")
	}
}

func TestCreditAndDebit(t *testing.T) {
	l := New()

	if err := l.Credit(tokenX, alice, uint256.NewInt(100)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if got := l.BalanceOf(tokenX, alice); !got.Eq(uint256.NewInt(100)) {
		t.Errorf("balance = %s, want 100", got.Dec())
	}

	if err := l.Debit(tokenX, alice, uint256.NewInt(40)); err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if got := l.BalanceOf(tokenX, alice); !got.Eq(uint256.NewInt(60)) {
		t.Errorf("balance = %s, want 60", got.Dec())
	}

	// Debiting to exactly zero is a valid steady state, not a deletion.
	if err := l.Debit(tokenX, alice, uint256.NewInt(60)); err != nil {
		t.Fatalf("debit to zero failed: %v", err)
	}
	if !l.BalanceOf(tokenX, alice).IsZero() {
		t.Error("expected zero balance")
	}
}

func TestDebitInsufficientLeavesBalanceUnchanged(t *testing.T) {
	l := New()
	l.Credit(tokenX, alice, uint256.NewInt(50))

	err := l.Debit(tokenX, alice, uint256.NewInt(51))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := l.BalanceOf(tokenX, alice); !got.Eq(uint256.NewInt(50)) {
		t.Errorf("balance = %s, want 50 (unchanged)", got.Dec())
	}
}

func TestCellsAreIndependentPerTokenAndHolder(t *testing.T) {
	l := New()
	l.Credit(tokenX, alice, uint256.NewInt(1))
	l.Credit(tokenY, alice, uint256.NewInt(2))
	l.Credit(tokenX, bob, uint256.NewInt(3))

	if got := l.BalanceOf(tokenX, alice); !got.Eq(uint256.NewInt(1)) {
		t.Errorf("(X, alice) = %s, want 1", got.Dec())
	}
	if got := l.BalanceOf(tokenY, alice); !got.Eq(uint256.NewInt(2)) {
		t.Errorf("(Y, alice) = %s, want 2", got.Dec())
	}
	if got := l.BalanceOf(tokenX, bob); !got.Eq(uint256.NewInt(3)) {
		t.Errorf("(X, bob) = %s, want 3", got.Dec())
	}
}

func TestApplyIsAllOrNothing(t *testing.T) {
	l := New()
	l.Credit(tokenX, alice, uint256.NewInt(100))
	l.Credit(tokenY, bob, uint256.NewInt(5))

	// Last entry fails: bob has 5 Y, not 10. Nothing may move.
	err := l.Apply(
		Debit(tokenX, alice, uint256.NewInt(100)),
		Credit(tokenX, bob, uint256.NewInt(100)),
		Debit(tokenY, bob, uint256.NewInt(10)),
	)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}

	if got := l.BalanceOf(tokenX, alice); !got.Eq(uint256.NewInt(100)) {
		t.Errorf("(X, alice) = %s, want 100 (unchanged)", got.Dec())
	}
	if !l.BalanceOf(tokenX, bob).IsZero() {
		t.Error("(X, bob) should be unchanged at zero")
	}
	if got := l.BalanceOf(tokenY, bob); !got.Eq(uint256.NewInt(5)) {
		t.Errorf("(Y, bob) = %s, want 5 (unchanged)", got.Dec())
	}
}

func TestApplySameCellTwice(t *testing.T) {
	l := New()
	l.Credit(tokenX, alice, uint256.NewInt(10))

	// Entries against the same cell see each other's effects in order:
	// debit 10, then credit 4 back.
	err := l.Apply(
		Debit(tokenX, alice, uint256.NewInt(10)),
		Credit(tokenX, alice, uint256.NewInt(4)),
	)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if got := l.BalanceOf(tokenX, alice); !got.Eq(uint256.NewInt(4)) {
		t.Errorf("balance = %s, want 4", got.Dec())
	}

	// A debit that is only covered by a later credit must fail.
	err = l.Apply(
		Debit(tokenX, alice, uint256.NewInt(5)),
		Credit(tokenX, alice, uint256.NewInt(100)),
	)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	if got := l.BalanceOf(tokenX, alice); !got.Eq(uint256.NewInt(4)) {
		t.Errorf("balance = %s, want 4 (unchanged)", got.Dec())
	}
}

func TestCreditOverflowRejected(t *testing.T) {
	l := New()
	max := new(uint256.Int).SetAllOne()
	l.Credit(tokenX, alice, max)

	err := l.Credit(tokenX, alice, uint256.NewInt(1))
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("err = %v, want ErrOverflow", err)
	}
	if got := l.BalanceOf(tokenX, alice); !got.Eq(max) {
		t.Error("balance changed after rejected overflow credit")
	}
}

func TestBalanceOfReturnsCopy(t *testing.T) {
	l := New()
	l.Credit(tokenX, alice, uint256.NewInt(7))

	got := l.BalanceOf(tokenX, alice)
	got.SetUint64(999)

	if fresh := l.BalanceOf(tokenX, alice); !fresh.Eq(uint256.NewInt(7)) {
		t.Error("mutating a returned balance leaked into the ledger")
	}
}

func TestRestoreAndRange(t *testing.T) {
	l := New()
	l.Restore(tokenX, alice, uint256.NewInt(11))
	l.Restore(tokenY, bob, uint256.NewInt(22))

	seen := 0
	l.Range(func(token, holder common.Address, amount *uint256.Int) {
		seen++
	})
	if seen != 2 {
		t.Errorf("ranged over %d cells, want 2", seen)
	}
	if got := l.BalanceOf(tokenX, alice); !got.Eq(uint256.NewInt(11)) {
		t.Errorf("restored balance = %s, want 11", got.Dec())
	}
}
