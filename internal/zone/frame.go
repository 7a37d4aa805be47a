package zone

// StateFrame gathers the state blocks of every active zone for a single
// frame time.
type StateFrame struct {
	time   int64
	blocks []*StateBlock
}

func NewStateFrame(time int64, sizeHint int) *StateFrame {
	return &StateFrame{time: time, blocks: make([]*StateBlock, 0, sizeHint)}
}

func (f *StateFrame) Time() int64 {
	return f.time
}

func (f *StateFrame) Add(b *StateBlock) {
	f.blocks = append(f.blocks, b)
}

func (f *StateFrame) Blocks() []*StateBlock {
	return f.blocks
}
