package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRoomRepository struct {
	mock.Mock
}

func (m *MockRoomRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRoomRepository) FindRoomById(ctx context.Context, id int64) (Room, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRoomRepository) Save(ctx context.Context, room Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}
func (m *MockRoomRepository) DecrementCapacity(ctx context.Context, id int64) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}
func (m *MockRoomRepository) SoftDelete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockRoomRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRoomRepository) ListFollowerIds(ctx context.Context, followeeId int64) ([]int64, error) {
	args := m.Called(ctx, followeeId)
	if ids, ok := args.Get(0).([]int64); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
