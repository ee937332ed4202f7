package engine

import "os"

func filepathStat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}
