package replica

import "go.uber.org/zap"

// NoNetworkID is returned when looking up an entity that has no
// allocated network id.
const NoNetworkID = -1

// IdIndex maps opaque 64-bit entity ids onto a dense 16-bit network id
// range.  Allocation wraps around the range, skipping ids still in use;
// RetireID returns an id to the pool.
type IdIndex struct {
	log *zap.Logger

	entityByNet map[int]int64
	netByEntity map[int64]int

	minID  int
	maxID  int
	nextID int
}

func NewIdIndex(log *zap.Logger, minID, maxID int) *IdIndex {
	return &IdIndex{
		log:         log.Named("idindex"),
		entityByNet: make(map[int]int64),
		netByEntity: make(map[int64]int),
		minID:       minID,
		maxID:       maxID,
		nextID:      minID,
	}
}

func (x *IdIndex) increment() {
	x.nextID++
	if x.nextID > x.maxID {
		x.nextID = x.minID
	}
}

func (x *IdIndex) allocate(entity int64) int {
	// Skip ids still live from a previous wrap.
	for {
		if _, used := x.entityByNet[x.nextID]; !used {
			break
		}
		x.log.Warn("network id already in use", zap.Int("id", x.nextID))
		x.increment()
	}

	id := x.nextID
	x.entityByNet[id] = entity
	x.netByEntity[entity] = id
	x.increment()
	return id
}

// ID returns the network id for the entity, allocating one when create
// is set.  Without create, NoNetworkID means "never allocated".
func (x *IdIndex) ID(entity int64, create bool) int {
	if id, ok := x.netByEntity[entity]; ok {
		return id
	}
	if create {
		return x.allocate(entity)
	}
	return NoNetworkID
}

// EntityID reverses a network id; the second result reports whether the
// id is live.
func (x *IdIndex) EntityID(id int) (int64, bool) {
	e, ok := x.entityByNet[id]
	return e, ok
}

// RetireID returns the network id to the pool.
func (x *IdIndex) RetireID(id int) {
	entity, ok := x.entityByNet[id]
	if !ok {
		x.log.Warn("retired network id with no mapped entity", zap.Int("id", id))
		return
	}
	delete(x.entityByNet, id)
	delete(x.netByEntity, entity)
}
