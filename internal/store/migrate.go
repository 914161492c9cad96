package store

import (
	"fmt"

	"github.com/franz/shelfdb/internal/util"
)

// SchemaVersion is the user_version this code upgrades databases to
const SchemaVersion = 4

// Upgrade moves the schema from Version-1 to Version
type Upgrade struct {
	Version int
	Name    string
	Apply   func(tx *Tx) error
}

// upgrades is ordered by Version. Tests swap it to observe each step.
var upgrades = []Upgrade{
	{2, "metadata_dirtied", upToV2},
	{3, "last_read_positions", upToV3},
	{4, "item_links", upToV4},
}

func upToV2(tx *Tx) error {
	_, err := tx.Execute(schemaV2)
	return err
}

func upToV3(tx *Tx) error {
	_, err := tx.Execute(schemaV3)
	return err
}

func upToV4(tx *Tx) error {
	_, err := tx.Execute(schemaV4)
	return err
}

// UserVersion returns PRAGMA user_version
func (s *Store) UserVersion() (int, error) {
	var version int
	if err := s.handle().QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read user_version: %w", err)
	}
	return version, nil
}

func setUserVersion(tx *Tx, version int) error {
	// PRAGMA does not accept bound parameters
	_, err := tx.Execute(fmt.Sprintf("PRAGMA user_version=%d", version))
	return err
}

// migrate creates the v1 schema on an empty database, then applies every
// pending upgrade, each in its own exclusive transaction.
func (s *Store) migrate() error {
	version, err := s.UserVersion()
	if err != nil {
		return err
	}

	if version == 0 {
		util.InfoLog("Initializing new library database %s", s.path)
		err := s.exclusive(func(tx *Tx) error {
			if _, err := tx.Execute(schemaV1); err != nil {
				return err
			}
			for _, lt := range builtinLinks {
				if _, err := tx.Execute(fkcTriggers(lt)); err != nil {
					return err
				}
			}
			if _, err := tx.Execute(createAuthorTriggers); err != nil {
				return err
			}
			return setUserVersion(tx, 1)
		})
		if err != nil {
			return fmt.Errorf("%w: v1: %v", util.ErrSchemaUpgradeFailed, err)
		}
		if version, err = s.UserVersion(); err != nil {
			return err
		}
		if version == 0 {
			return util.ErrInvalidLibrary
		}
	}

	for _, up := range upgrades {
		if up.Version <= version {
			continue
		}
		util.InfoLog("Upgrading library schema to v%d (%s)", up.Version, up.Name)
		err := s.exclusive(func(tx *Tx) error {
			if err := up.Apply(tx); err != nil {
				return err
			}
			return setUserVersion(tx, up.Version)
		})
		if err != nil {
			return fmt.Errorf("%w: v%d %s: %v", util.ErrSchemaUpgradeFailed, up.Version, up.Name, err)
		}
		version = up.Version
	}

	return s.applyFixups()
}

// applyFixups repairs state older code may have left behind. Safe to repeat.
func (s *Store) applyFixups() error {
	return s.exclusive(func(tx *Tx) error {
		if _, err := tx.Execute(dropAuthorTriggers); err != nil {
			return fmt.Errorf("drop author triggers: %w", err)
		}
		if _, err := tx.Execute(createAuthorTriggers); err != nil {
			return fmt.Errorf("create author triggers: %w", err)
		}
		if _, err := tx.Execute(fixNullAuthorSort); err != nil {
			return fmt.Errorf("recompute author sort: %w", err)
		}
		return nil
	})
}
