package pipeline

// ParseJavaMajor exposes the java -version parser to tests.
var ParseJavaMajor = parseJavaMajor

// MoveTree exposes the relocation walk to tests.
func MoveTree(src, dst string, check func() error) (int, error) {
	m := mover{token: check}
	err := m.moveDir(src, dst)
	return m.skipped, err
}
