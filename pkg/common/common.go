package common

import (
	"errors"
	"fmt"
	"os"

	"go.starlark.net/starlark"
)

// ToStringList converts a starlark iterable of strings into a Go slice.
func ToStringList(it starlark.Iterable) ([]string, error) {
	iter := it.Iterate()
	defer iter.Done()

	var ret []string

	var val starlark.Value
	for iter.Next(&val) {
		str, ok := starlark.AsString(val)
		if !ok {
			return nil, fmt.Errorf("could not convert %s to string", val.Type())
		}

		ret = append(ret, str)
	}

	return ret, nil
}

func Exists(name string) (bool, error) {
	_, err := os.Stat(name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Ensure creates path and any missing parents. In dry-run mode the creation
// is only announced so later path math still sees consistent locations.
func Ensure(path string, dryRun bool) error {
	if ok, _ := Exists(path); ok {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", path)
		}
		return nil
	}

	if dryRun {
		fmt.Printf("Would create %s\n", path)
		return nil
	}

	if err := os.MkdirAll(path, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory: %v", err)
	}

	return nil
}
