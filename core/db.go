package core

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// Direction returns the sort direction as understood by document stores: 1 or -1.
func (ord DBOrdering) Direction() int {
	if ord.Ascending {
		return 1
	}
	return -1
}
