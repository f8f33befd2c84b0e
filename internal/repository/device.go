package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// DeviceRepository 设备仓库（状态管道只读）
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

// DeviceInfo 状态管道所需的设备视图
type DeviceInfo struct {
	DeviceID   string
	URI        string
	DeviceName string
	DeviceType string
	// LastStatus 设备集合中记录的最后已知状态（可能为空）
	LastStatus string
	// AttachedToURI 宿主设备 URI（挂载关系，最多一层）
	AttachedToURI sql.NullString
	// GroupsLength 所属分组数量
	GroupsLength int
	// ProjectKeys 所属分组对应的租户 project key 集合
	ProjectKeys []string
}

const deviceSelectColumns = `
		d.device_id,
		d.uri,
		d.device_name,
		d.device_type,
		COALESCE(d.last_status, ''),
		d.attached_to_uri,
		COUNT(g.group_id),
		COALESCE(array_agg(DISTINCT g.project_key) FILTER (WHERE g.project_key IS NOT NULL), '{}')`

// ListDevices 获取全部设备及其分组信息（启动对账与租户连接映射使用）
func (r *DeviceRepository) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	query := `
		SELECT ` + deviceSelectColumns + `
		FROM devices d
		LEFT JOIN device_groups dg ON dg.device_id = d.device_id
		LEFT JOIN groups g ON g.group_id = dg.group_id
		GROUP BY d.device_id, d.uri, d.device_name, d.device_type, d.last_status, d.attached_to_uri
		ORDER BY d.device_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []DeviceInfo
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}

	return devices, nil
}

// GetDevice 按设备ID获取设备；不存在时返回 (nil, nil)
func (r *DeviceRepository) GetDevice(ctx context.Context, deviceID string) (*DeviceInfo, error) {
	return r.getDeviceWhere(ctx, "d.device_id = $1", deviceID)
}

// GetDeviceByURI 按 URI 获取设备；不存在时返回 (nil, nil)
func (r *DeviceRepository) GetDeviceByURI(ctx context.Context, uri string) (*DeviceInfo, error) {
	return r.getDeviceWhere(ctx, "d.uri = $1", uri)
}

func (r *DeviceRepository) getDeviceWhere(ctx context.Context, where string, arg string) (*DeviceInfo, error) {
	query := `
		SELECT ` + deviceSelectColumns + `
		FROM devices d
		LEFT JOIN device_groups dg ON dg.device_id = d.device_id
		LEFT JOIN groups g ON g.group_id = dg.group_id
		WHERE ` + where + `
		GROUP BY d.device_id, d.uri, d.device_name, d.device_type, d.last_status, d.attached_to_uri
	`

	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query device: %w", err)
		}
		return nil, nil
	}

	return scanDevice(rows)
}

// GetAttachedDevices 获取挂载在指定宿主 URI 上的全部设备
func (r *DeviceRepository) GetAttachedDevices(ctx context.Context, hostURI string) ([]DeviceInfo, error) {
	query := `
		SELECT ` + deviceSelectColumns + `
		FROM devices d
		LEFT JOIN device_groups dg ON dg.device_id = d.device_id
		LEFT JOIN groups g ON g.group_id = dg.group_id
		WHERE d.attached_to_uri = $1
		GROUP BY d.device_id, d.uri, d.device_name, d.device_type, d.last_status, d.attached_to_uri
		ORDER BY d.device_id
	`

	rows, err := r.db.QueryContext(ctx, query, hostURI)
	if err != nil {
		return nil, fmt.Errorf("failed to query attached devices: %w", err)
	}
	defer rows.Close()

	var devices []DeviceInfo
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attached devices: %w", err)
	}

	return devices, nil
}

func scanDevice(rows *sql.Rows) (*DeviceInfo, error) {
	var device DeviceInfo
	var projectKeys []string

	if err := rows.Scan(
		&device.DeviceID,
		&device.URI,
		&device.DeviceName,
		&device.DeviceType,
		&device.LastStatus,
		&device.AttachedToURI,
		&device.GroupsLength,
		pq.Array(&projectKeys),
	); err != nil {
		return nil, fmt.Errorf("failed to scan device: %w", err)
	}

	device.ProjectKeys = projectKeys
	return &device, nil
}
