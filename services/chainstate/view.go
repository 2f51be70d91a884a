package chainstate

import (
	"github.com/goldcoin/popnode/errors"
	"github.com/goldcoin/popnode/model"
)

// utxoView stages UTXO changes on top of the committed set. Nothing reaches the committed
// set until the view is applied, so a failed connect or reorg is undone by dropping the
// view.
type utxoView struct {
	base  func(model.Outpoint) (*model.UTXO, bool)
	added map[model.Outpoint]*model.UTXO
	spent map[model.Outpoint]*model.UTXO

	created  uint64
	consumed uint64
}

func newUtxoView(base func(model.Outpoint) (*model.UTXO, bool)) *utxoView {
	return &utxoView{
		base:  base,
		added: make(map[model.Outpoint]*model.UTXO),
		spent: make(map[model.Outpoint]*model.UTXO),
	}
}

func (v *utxoView) get(op model.Outpoint) (*model.UTXO, bool) {
	if u, ok := v.added[op]; ok {
		return u, true
	}

	if _, ok := v.spent[op]; ok {
		return nil, false
	}

	return v.base(op)
}

// isSpent reports whether op existed and was spent inside this view.
func (v *utxoView) isSpent(op model.Outpoint) bool {
	if _, ok := v.added[op]; ok {
		return false
	}

	_, ok := v.spent[op]

	return ok
}

func (v *utxoView) add(u *model.UTXO) error {
	if _, exists := v.get(u.Outpoint); exists {
		return errors.NewTxAlreadyExistsError("output %s already exists", u.Outpoint)
	}

	v.added[u.Outpoint] = u
	v.created += u.Value

	return nil
}

func (v *utxoView) spend(op model.Outpoint) (*model.UTXO, error) {
	if u, ok := v.added[op]; ok {
		delete(v.added, op)

		v.consumed += u.Value

		return u, nil
	}

	if _, ok := v.spent[op]; ok {
		return nil, errors.NewTxInvalidDoubleSpendError("output %s already spent", op)
	}

	u, ok := v.base(op)
	if !ok {
		return nil, errors.NewTxMissingInputsError("output %s does not exist", op)
	}

	v.spent[op] = u
	v.consumed += u.Value

	return u, nil
}

// supplyAfter applies the net value change of the view to supply.
func (v *utxoView) supplyAfter(supply uint64) uint64 {
	return supply + v.created - v.consumed
}
