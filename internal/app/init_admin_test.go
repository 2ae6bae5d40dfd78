package app

import (
	"path/filepath"
	"testing"

	"github.com/cardforge/cardforge/internal/db"
	"github.com/cardforge/cardforge/internal/models"
	"github.com/cardforge/cardforge/internal/security"
	internalsettings "github.com/cardforge/cardforge/internal/settings"
)

func TestCreateAdminUserWithConn_HashesPasswordAndSeedsSiteName(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "cardforge-test.db")
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	if errCreate := CreateAdminUserWithConn(conn, "admin", "password", "My Card Shop"); errCreate != nil {
		t.Fatalf("CreateAdminUserWithConn: %v", errCreate)
	}

	var admin models.Admin
	if errFind := conn.Where("username = ?", "admin").First(&admin).Error; errFind != nil {
		t.Fatalf("find admin: %v", errFind)
	}
	if admin.Password == "password" {
		t.Fatalf("expected password to be hashed")
	}
	if !security.CheckPassword(admin.Password, "password") {
		t.Fatalf("expected stored hash to verify")
	}

	var setting models.Setting
	if errFind := conn.Where("key = ?", internalsettings.SiteNameKey).First(&setting).Error; errFind != nil {
		t.Fatalf("find site name setting: %v", errFind)
	}
	if string(setting.Value) != `"My Card Shop"` {
		t.Fatalf("unexpected site name value: %s", setting.Value)
	}
}
