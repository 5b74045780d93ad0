package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/modelvc/internal/domain"
)

func TestFieldNameFromDisplayName(t *testing.T) {
	cases := map[string]string{
		"Customer Email":     "customerEmail",
		"is Active":          "isActive",
		"  shipping   date ": "shippingDate",
		"Status":             "status",
	}
	for in, want := range cases {
		if got := fieldNameFromDisplayName(in); got != want {
			t.Errorf("fieldNameFromDisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCreateFieldByDisplayNameInfersEmail(t *testing.T) {
	f := newFixture(t)
	order := f.createEntity(t, "Order")

	field, err := f.svc.CreateFieldByDisplayName(f.ctx, CreateFieldByDisplayNameArgs{EntityID: order.ID, DisplayName: "Customer Email"}, f.user)
	require.NoError(t, err)
	assert.Equal(t, domain.DataTypeEmail, field.DataType)
	assert.Equal(t, "customerEmail", field.Name)
	assert.Equal(t, "Customer Email", field.DisplayName)
	assert.Empty(t, field.Properties)
	assert.Nil(t, f.rawEntity(t, order.ID).LockedByUserID)
}

func TestCreateFieldByDisplayNameInfersBoolean(t *testing.T) {
	f := newFixture(t)
	order := f.createEntity(t, "Order")

	field, err := f.svc.CreateFieldByDisplayName(f.ctx, CreateFieldByDisplayNameArgs{EntityID: order.ID, DisplayName: "is Active"}, f.user)
	require.NoError(t, err)
	assert.Equal(t, domain.DataTypeBoolean, field.DataType)
	assert.Equal(t, "isActive", field.Name)
}

func TestCreateFieldByDisplayNameInfersPluralLookup(t *testing.T) {
	f := newFixture(t)
	order := f.createEntity(t, "Order")
	item := f.createEntity(t, "Item")

	field, err := f.svc.CreateFieldByDisplayName(f.ctx, CreateFieldByDisplayNameArgs{EntityID: order.ID, DisplayName: "ITEMS"}, f.user)
	require.NoError(t, err)
	assert.Equal(t, domain.DataTypeLookup, field.DataType)
	assert.Equal(t, "items", field.Name)

	props, ok := field.LookupProperties()
	require.True(t, ok)
	assert.Equal(t, item.ID, props.RelatedEntityID)
	assert.True(t, props.AllowMultipleSelection)
}

func TestCreateFieldCreateInputByDisplayNameRules(t *testing.T) {
	f := newFixture(t)
	order := f.createEntity(t, "Order")
	customer := f.createEntity(t, "Customer")

	cases := []struct {
		displayName string
		name        string
		dataType    domain.DataType
		properties  map[string]any
	}{
		{"Delivery Date", "deliveryDate", domain.DataTypeDateTime, map[string]any{"timeZone": "localTime", "dateOnly": false}},
		{"Long Description", "longDescription", domain.DataTypeMultiLineText, map[string]any{"maxLength": 1000}},
		{"Billing email", "billingEmail", domain.DataTypeEmail, map[string]any{}},
		{"isPaid", "isPaid", domain.DataTypeBoolean, map[string]any{}},
		{"Order Status", "orderStatus", domain.DataTypeOptionSet, map[string]any{
			"options": []any{map[string]any{"label": "Option 1", "value": "Option1"}},
		}},
		{"customer", "customer", domain.DataTypeLookup, domain.LookupProperties{RelatedEntityID: customer.ID}.Map()},
		{"Nickname", "nickname", domain.DataTypeSingleLineText, map[string]any{"maxLength": 256}},
	}

	for _, tc := range cases {
		t.Run(tc.displayName, func(t *testing.T) {
			in, err := f.svc.CreateFieldCreateInputByDisplayName(f.ctx, CreateFieldByDisplayNameArgs{
				EntityID:    order.ID,
				DisplayName: tc.displayName,
			}, order)
			require.NoError(t, err)
			assert.Equal(t, tc.name, in.Name)
			assert.Equal(t, tc.dataType, in.DataType)
			assert.Equal(t, tc.properties, in.Properties)
			require.NoError(t, validateFieldInput(in))
		})
	}
}

func TestCreateFieldByDisplayNameSkipsLookupWhenNameTaken(t *testing.T) {
	f := newFixture(t)
	order := f.createEntity(t, "Order")
	f.createEntity(t, "Customer")
	f.addTextField(t, order.ID, "customer")

	in, err := f.svc.CreateFieldCreateInputByDisplayName(f.ctx, CreateFieldByDisplayNameArgs{
		EntityID:    order.ID,
		DisplayName: "Customer",
	}, order)
	require.NoError(t, err)
	assert.Equal(t, domain.DataTypeSingleLineText, in.DataType)
}
