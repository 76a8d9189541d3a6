package storage

// ModifyType is the smallest unit of mutation of the underlying storage (i.e., raw key/values).
type ModifyType int64

const (
	ModifyTypePut    ModifyType = 1
	ModifyTypeDelete ModifyType = 2
)

type Put struct {
	Key   []byte
	Value []byte
}

type Delete struct {
	Key []byte
}

// Modify is a single change in a write batch. Data is either a Put or a Delete.
type Modify struct {
	Type ModifyType
	Data interface{}
}

func NewPut(key, value []byte) Modify {
	return Modify{Type: ModifyTypePut, Data: Put{Key: key, Value: value}}
}

func NewDelete(key []byte) Modify {
	return Modify{Type: ModifyTypeDelete, Data: Delete{Key: key}}
}

func (m *Modify) Key() []byte {
	switch m.Data.(type) {
	case Put:
		return m.Data.(Put).Key
	case Delete:
		return m.Data.(Delete).Key
	}
	return nil
}

// Value returns nil for a Delete.
func (m *Modify) Value() []byte {
	if putData, ok := m.Data.(Put); ok {
		return putData.Value
	}
	return nil
}
